package normalize

import (
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/inferloop/studentprep/internal/reconcile"
	"github.com/inferloop/studentprep/internal/table"
	"github.com/inferloop/studentprep/pkg/constants"
)

// ValueMap is a partial mapping from lower-cased, trimmed values to their
// canonical spelling. Values outside the mapping pass through unchanged.
type ValueMap map[string]string

// Apply returns the canonical spelling of v and whether v was mapped.
func (m ValueMap) Apply(v string) (string, bool) {
	if out, ok := m[strings.ToLower(strings.TrimSpace(v))]; ok {
		return out, true
	}
	return v, false
}

// LunchMap canonicalizes the lunch column.
func LunchMap() ValueMap {
	return ValueMap{"standard": "Standard", "free/reduced": "Free/Reduced"}
}

// GenderMap canonicalizes the gender column.
func GenderMap() ValueMap {
	return ValueMap{"female": "Female", "male": "Male"}
}

// TestPrepMap canonicalizes the test preparation course column.
func TestPrepMap() ValueMap {
	return ValueMap{"none": "None", "completed": "Completed"}
}

// DefaultMaps returns the built-in value maps keyed by sanitized column name.
func DefaultMaps() map[string]ValueMap {
	return map[string]ValueMap{
		reconcile.Sanitize(constants.ColumnGender):          GenderMap(),
		reconcile.Sanitize(constants.ColumnLunch):           LunchMap(),
		reconcile.Sanitize(constants.ColumnTestPreparation): TestPrepMap(),
	}
}

// Result counts what normalization changed and what it could not.
type Result struct {
	Mapped   map[string]int `json:"mapped"`
	Unmapped map[string]int `json:"unmapped"`
	// Incomplete lists education values that matched no expected level,
	// with their row counts.
	Incomplete map[string]int `json:"incomplete,omitempty"`
}

// IncompleteCount totals the rows left with an unexpected education value.
func (r *Result) IncompleteCount() int {
	n := 0
	for _, c := range r.Incomplete {
		n += c
	}
	return n
}

// Normalizer rewrites categorical values to canonical spellings.
type Normalizer struct {
	maps            map[string]ValueMap
	educationColumn string
	educationLevels map[string]struct{}
	title           cases.Caser
	logger          *logrus.Logger
}

// NewNormalizer creates a normalizer. maps nil means DefaultMaps.
func NewNormalizer(maps map[string]ValueMap, logger *logrus.Logger) *Normalizer {
	if logger == nil {
		logger = logrus.New()
	}
	if maps == nil {
		maps = DefaultMaps()
	}

	levels := make(map[string]struct{})
	for _, lvl := range constants.EducationLevels() {
		levels[lvl] = struct{}{}
	}

	return &Normalizer{
		maps:            maps,
		educationColumn: reconcile.Sanitize(constants.ColumnParentEducation),
		educationLevels: levels,
		title:           cases.Title(language.English),
		logger:          logger,
	}
}

// Normalize rewrites every mapped column and the education column in place.
// Absent columns are skipped.
func (n *Normalizer) Normalize(t *table.Table) *Result {
	res := &Result{
		Mapped:     make(map[string]int),
		Unmapped:   make(map[string]int),
		Incomplete: make(map[string]int),
	}

	names := make([]string, 0, len(n.maps))
	for name := range n.maps {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		col, ok := t.Column(name)
		if !ok {
			continue
		}
		mapped, unmapped := applyMap(col, n.maps[name])
		res.Mapped[name] = mapped
		if unmapped > 0 {
			res.Unmapped[name] = unmapped
			n.logger.WithFields(logrus.Fields{
				"column": name,
				"count":  unmapped,
			}).Warn("Values outside the value map left unchanged")
		}
	}

	if col, ok := t.Column(n.educationColumn); ok {
		res.Mapped[n.educationColumn] = n.normalizeEducation(col, res.Incomplete)
		if len(res.Incomplete) > 0 {
			n.logger.WithFields(logrus.Fields{
				"column": n.educationColumn,
				"count":  res.IncompleteCount(),
				"values": len(res.Incomplete),
			}).Warn("Incomplete normalization of education levels")
		}
	}

	n.logger.WithField("columns", len(res.Mapped)).Debug("Normalized categorical values")
	return res
}

// Education trims and lower-cases v, then title-cases it when it is one of
// the expected levels. ok is false for any other value.
func (n *Normalizer) Education(v string) (string, bool) {
	key := strings.ToLower(strings.TrimSpace(v))
	if _, known := n.educationLevels[key]; known {
		return n.title.String(key), true
	}
	return key, false
}

func (n *Normalizer) normalizeEducation(col *table.Column, incomplete map[string]int) int {
	mapped := 0
	for i, v := range col.Values {
		if v.IsMissing() {
			continue
		}
		out, ok := n.Education(v.Text())
		col.Values[i] = table.Str(out)
		if ok {
			mapped++
		} else {
			incomplete[out]++
		}
	}
	return mapped
}

func applyMap(col *table.Column, m ValueMap) (mapped, unmapped int) {
	for i, v := range col.Values {
		if v.IsMissing() {
			continue
		}
		out, ok := m.Apply(v.Text())
		if ok {
			col.Values[i] = table.Str(out)
			mapped++
		} else {
			unmapped++
		}
	}
	return mapped, unmapped
}
