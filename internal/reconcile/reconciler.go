package reconcile

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/inferloop/studentprep/internal/table"
	"github.com/inferloop/studentprep/pkg/constants"
	"github.com/inferloop/studentprep/pkg/errors"
)

var (
	separatorRun = regexp.MustCompile(`[_\s]+`)
	nonAlnumRun  = regexp.MustCompile(`[^a-z0-9]+`)
)

// CleanHeader is the fallback display name for an unmatched header: runs of
// underscores or whitespace become one space, then trim and lower-case.
func CleanHeader(raw string) string {
	return strings.ToLower(strings.TrimSpace(separatorRun.ReplaceAllString(raw, " ")))
}

// Sanitize turns a display name into a machine-safe identifier.
func Sanitize(display string) string {
	s := nonAlnumRun.ReplaceAllString(strings.ToLower(display), "_")
	return strings.Trim(s, "_")
}

// Entry records how one input column was renamed.
type Entry struct {
	Position  int     `json:"position"`
	Raw       string  `json:"raw"`
	Key       string  `json:"key"`
	Display   string  `json:"display"`
	Target    string  `json:"target"`
	Matched   bool    `json:"matched"`
	Canonical int     `json:"canonical"`
	Score     float64 `json:"score"`
	Renamed   bool    `json:"renamed"`
}

// LowConfidence reports a match that cleared the cutoff but not the
// confidence threshold.
func (e Entry) LowConfidence() bool {
	return e.Matched && e.Score < constants.LowConfidenceThreshold
}

// RenameMap maps every input column, by position, to its target name.
type RenameMap struct {
	Entries []Entry `json:"entries"`
}

// Lookup returns the target name for a raw header.
func (m *RenameMap) Lookup(raw string) (string, bool) {
	for _, e := range m.Entries {
		if e.Raw == raw {
			return e.Target, true
		}
	}
	return "", false
}

// Targets returns the target names in input order.
func (m *RenameMap) Targets() []string {
	out := make([]string, len(m.Entries))
	for i, e := range m.Entries {
		out[i] = e.Target
	}
	return out
}

// Stats summarizes a rename map.
type Stats struct {
	Matched       int `json:"matched"`
	Unmatched     int `json:"unmatched"`
	LowConfidence int `json:"low_confidence"`
	Collisions    int `json:"collisions"`
}

// Stats counts matched, unmatched, low-confidence and renamed-on-collision entries.
func (m *RenameMap) Stats() Stats {
	var s Stats
	for _, e := range m.Entries {
		if e.Matched {
			s.Matched++
		} else {
			s.Unmatched++
		}
		if e.LowConfidence() {
			s.LowConfidence++
		}
		if e.Renamed {
			s.Collisions++
		}
	}
	return s
}

// Reconciler maps raw headers onto the canonical schema.
type Reconciler struct {
	matcher *Matcher
	logger  *logrus.Logger
}

// NewReconciler creates a reconciler for the canonical display names.
func NewReconciler(canonical []string, cutoff float64, logger *logrus.Logger) *Reconciler {
	if logger == nil {
		logger = logrus.New()
	}
	return &Reconciler{
		matcher: NewMatcher(canonical, cutoff),
		logger:  logger,
	}
}

// Build computes the rename map for headers. Every header gets exactly one
// entry; targets are unique, non-empty and limited to [a-z0-9_].
func (r *Reconciler) Build(headers []string) *RenameMap {
	m := &RenameMap{Entries: make([]Entry, len(headers))}
	used := make(map[string]int, len(headers))

	for i, raw := range headers {
		key := NormalizeKey(raw)
		e := Entry{Position: i, Raw: raw, Key: key, Canonical: -1}

		if c, score, ok := r.matcher.BestMatch(key); ok {
			e.Display = c.Display
			e.Matched = true
			e.Canonical = c.Index
			e.Score = score
		} else {
			e.Display = CleanHeader(raw)
		}

		target := Sanitize(e.Display)
		if target == "" {
			target = fmt.Sprintf("%s_%d", constants.ColumnFallbackPrefix, i)
		}
		if n, taken := used[target]; taken {
			// a later column reaching a taken name keeps its data under a suffix
			base := target
			for {
				n++
				target = fmt.Sprintf("%s%s%d", base, constants.DuplicateTargetSep, n)
				if _, clash := used[target]; !clash {
					break
				}
			}
			used[base] = n
			e.Renamed = true
		}
		used[target] = 1
		e.Target = target
		m.Entries[i] = e

		r.logger.WithFields(logrus.Fields{
			"raw":     raw,
			"target":  target,
			"matched": e.Matched,
			"score":   fmt.Sprintf("%.3f", e.Score),
		}).Debug("Reconciled column header")
	}

	return m
}

// Apply renames the table's columns and orders them: canonical columns first
// in schema order, then the remaining columns in their input order.
func (r *Reconciler) Apply(t *table.Table, m *RenameMap) error {
	if len(m.Entries) != t.Width() {
		return errors.NewValidationError(errors.CodeLengthMismatch,
			fmt.Sprintf("rename map has %d entries, table has %d columns", len(m.Entries), t.Width()))
	}
	if err := t.SetNames(m.Targets()); err != nil {
		return err
	}

	slots := make([]string, len(r.matcher.Candidates()))
	var rest []string
	for _, e := range m.Entries {
		if e.Matched && !e.Renamed && slots[e.Canonical] == "" {
			slots[e.Canonical] = e.Target
			continue
		}
		rest = append(rest, e.Target)
	}

	order := make([]string, 0, t.Width())
	for _, name := range slots {
		if name != "" {
			order = append(order, name)
		}
	}
	order = append(order, rest...)
	return t.Reorder(order)
}

// Reconcile builds the rename map from the table's headers and applies it.
func (r *Reconciler) Reconcile(t *table.Table) (*RenameMap, error) {
	m := r.Build(t.Names())
	if err := r.Apply(t, m); err != nil {
		return nil, err
	}

	stats := m.Stats()
	r.logger.WithFields(logrus.Fields{
		"matched":        stats.Matched,
		"unmatched":      stats.Unmatched,
		"low_confidence": stats.LowConfidence,
		"collisions":     stats.Collisions,
	}).Info("Reconciled column headers")

	if stats.LowConfidence > 0 {
		r.logger.WithField("count", stats.LowConfidence).Warn("Low-confidence header matches")
	}
	if stats.Collisions > 0 {
		r.logger.WithField("count", stats.Collisions).Warn("Headers collided on the same target name")
	}

	return m, nil
}

// CanonicalTargets returns the sanitized names of the canonical schema.
func (r *Reconciler) CanonicalTargets() []string {
	out := make([]string, 0, len(r.matcher.Candidates()))
	for _, c := range r.matcher.Candidates() {
		out = append(out, Sanitize(c.Display))
	}
	return out
}

// RequireColumns returns a schema mismatch error naming every required column
// absent from t.
func RequireColumns(t *table.Table, required []string) error {
	var missing []string
	for _, name := range required {
		if !t.Has(name) {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return errors.NewSchemaMismatchError(missing)
	}
	return nil
}
