package table

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/inferloop/studentprep/pkg/errors"
)

// Kind identifies what a Value holds.
type Kind int

const (
	KindMissing Kind = iota
	KindNumber
	KindString
)

// Value is a single typed cell.
type Value struct {
	kind Kind
	num  float64
	str  string
}

// Missing returns an empty cell.
func Missing() Value { return Value{} }

// Num returns a numeric cell. NaN is stored as missing.
func Num(f float64) Value {
	if math.IsNaN(f) {
		return Value{}
	}
	return Value{kind: KindNumber, num: f}
}

// Str returns a categorical cell.
func Str(s string) Value { return Value{kind: KindString, str: s} }

// Bool returns 1 for true and 0 for false.
func Bool(b bool) Value {
	if b {
		return Num(1)
	}
	return Num(0)
}

func (v Value) Kind() Kind      { return v.kind }
func (v Value) IsMissing() bool { return v.kind == KindMissing }

// Float returns the numeric content. Categorical cells are parsed.
func (v Value) Float() (float64, bool) {
	switch v.kind {
	case KindNumber:
		return v.num, true
	case KindString:
		f, err := strconv.ParseFloat(strings.TrimSpace(v.str), 64)
		if err != nil || math.IsNaN(f) {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// Text returns the categorical content, or the shortest numeric rendering.
func (v Value) Text() string {
	switch v.kind {
	case KindNumber:
		return strconv.FormatFloat(v.num, 'f', -1, 64)
	case KindString:
		return v.str
	default:
		return ""
	}
}

// Equal reports whether two cells hold the same kind and content.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNumber:
		return v.num == o.num
	case KindString:
		return v.str == o.str
	default:
		return true
	}
}

// Type controls how a column is rendered on output.
type Type int

const (
	Categorical Type = iota
	Float
	Int
)

func (t Type) String() string {
	switch t {
	case Float:
		return "float"
	case Int:
		return "int"
	default:
		return "categorical"
	}
}

// Column is a named, typed sequence of cells.
type Column struct {
	Name   string
	Type   Type
	Values []Value
}

// NewColumn creates a column and infers nothing; callers pick the type.
func NewColumn(name string, typ Type, values []Value) *Column {
	return &Column{Name: name, Type: typ, Values: values}
}

// Len returns the number of cells.
func (c *Column) Len() int { return len(c.Values) }

// MissingCount counts empty cells.
func (c *Column) MissingCount() int {
	n := 0
	for _, v := range c.Values {
		if v.IsMissing() {
			n++
		}
	}
	return n
}

// Format renders cell i for delimited output. Float columns keep one decimal
// for integral values so 67 is written as 67.0.
func (c *Column) Format(i int) string {
	v := c.Values[i]
	if v.IsMissing() {
		return ""
	}
	if v.kind == KindNumber {
		switch c.Type {
		case Float:
			if v.num == math.Trunc(v.num) && !math.IsInf(v.num, 0) {
				return strconv.FormatFloat(v.num, 'f', 1, 64)
			}
		case Int:
			return strconv.FormatInt(int64(v.num), 10)
		}
	}
	return v.Text()
}

func (c *Column) clone() *Column {
	values := make([]Value, len(c.Values))
	copy(values, c.Values)
	return &Column{Name: c.Name, Type: c.Type, Values: values}
}

// Table is an ordered set of equally long columns with unique names.
type Table struct {
	columns []*Column
	index   map[string]int
	rows    int
}

// New returns an empty table with the given row count.
func New(rows int) *Table {
	return &Table{index: make(map[string]int), rows: rows}
}

// FromRecords builds a categorical table from a header and string records.
// Cells for which isMissing returns true become missing. Short records are
// padded with missing cells; long records are rejected.
func FromRecords(header []string, records [][]string, isMissing func(string) bool) (*Table, error) {
	t := New(len(records))
	for j, name := range header {
		values := make([]Value, len(records))
		for i, rec := range records {
			if len(rec) > len(header) {
				return nil, errors.NewValidationError(errors.CodeInvalidFormat,
					fmt.Sprintf("record %d has %d fields, header has %d", i+1, len(rec), len(header)))
			}
			if j >= len(rec) {
				continue
			}
			cell := rec[j]
			if isMissing != nil && isMissing(cell) {
				continue
			}
			values[i] = Str(cell)
		}
		if err := t.AddColumn(NewColumn(name, Categorical, values)); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// Len returns the row count.
func (t *Table) Len() int { return t.rows }

// Width returns the column count.
func (t *Table) Width() int { return len(t.columns) }

// Columns returns the columns in order. The slice must not be modified.
func (t *Table) Columns() []*Column { return t.columns }

// Names returns the column names in order.
func (t *Table) Names() []string {
	names := make([]string, len(t.columns))
	for i, c := range t.columns {
		names[i] = c.Name
	}
	return names
}

// Column looks up a column by name.
func (t *Table) Column(name string) (*Column, bool) {
	i, ok := t.index[name]
	if !ok {
		return nil, false
	}
	return t.columns[i], true
}

// Has reports whether a column exists.
func (t *Table) Has(name string) bool {
	_, ok := t.index[name]
	return ok
}

// AddColumn appends a column. Its length must match the table's row count
// and its name must be unused.
func (t *Table) AddColumn(c *Column) error {
	if c.Len() != t.rows {
		return errors.NewValidationError(errors.CodeLengthMismatch,
			fmt.Sprintf("column %q has %d values, table has %d rows", c.Name, c.Len(), t.rows))
	}
	if t.Has(c.Name) {
		return errors.NewValidationError(errors.CodeDuplicateName,
			fmt.Sprintf("column %q already exists", c.Name))
	}
	t.index[c.Name] = len(t.columns)
	t.columns = append(t.columns, c)
	return nil
}

// DropColumn removes a column and reports whether it existed.
func (t *Table) DropColumn(name string) bool {
	i, ok := t.index[name]
	if !ok {
		return false
	}
	t.columns = append(t.columns[:i], t.columns[i+1:]...)
	t.reindex()
	return true
}

// SetNames renames every column positionally.
func (t *Table) SetNames(names []string) error {
	if len(names) != len(t.columns) {
		return errors.NewValidationError(errors.CodeLengthMismatch,
			fmt.Sprintf("got %d names for %d columns", len(names), len(t.columns)))
	}
	seen := make(map[string]struct{}, len(names))
	for _, n := range names {
		if _, dup := seen[n]; dup {
			return errors.NewValidationError(errors.CodeDuplicateName,
				fmt.Sprintf("column %q would appear twice", n))
		}
		seen[n] = struct{}{}
	}
	for i, n := range names {
		t.columns[i].Name = n
	}
	t.reindex()
	return nil
}

// Reorder rearranges the columns; names must be a permutation of Names().
func (t *Table) Reorder(names []string) error {
	if len(names) != len(t.columns) {
		return errors.NewValidationError(errors.CodeLengthMismatch,
			fmt.Sprintf("got %d names for %d columns", len(names), len(t.columns)))
	}
	ordered := make([]*Column, 0, len(names))
	used := make(map[string]struct{}, len(names))
	for _, n := range names {
		c, ok := t.Column(n)
		if !ok {
			return errors.NewValidationError(errors.CodeMissingField, fmt.Sprintf("unknown column %q", n))
		}
		if _, dup := used[n]; dup {
			return errors.NewValidationError(errors.CodeDuplicateName, fmt.Sprintf("column %q listed twice", n))
		}
		used[n] = struct{}{}
		ordered = append(ordered, c)
	}
	t.columns = ordered
	t.reindex()
	return nil
}

// FilterRows keeps the rows for which keep returns true and returns the
// number of rows removed. All columns shrink together.
func (t *Table) FilterRows(keep func(row int) bool) int {
	kept := make([]int, 0, t.rows)
	for i := 0; i < t.rows; i++ {
		if keep(i) {
			kept = append(kept, i)
		}
	}
	removed := t.rows - len(kept)
	if removed == 0 {
		return 0
	}
	for _, c := range t.columns {
		values := make([]Value, len(kept))
		for j, i := range kept {
			values[j] = c.Values[i]
		}
		c.Values = values
	}
	t.rows = len(kept)
	return removed
}

// Row returns the cells of row i in column order.
func (t *Table) Row(i int) []Value {
	row := make([]Value, len(t.columns))
	for j, c := range t.columns {
		row[j] = c.Values[i]
	}
	return row
}

// RowKey encodes row i so that two rows share a key exactly when every cell
// is Equal.
func (t *Table) RowKey(i int) string {
	var b strings.Builder
	for _, c := range t.columns {
		v := c.Values[i]
		b.WriteByte(byte('0' + v.kind))
		switch v.kind {
		case KindNumber:
			b.WriteString(strconv.FormatUint(math.Float64bits(v.num), 16))
		case KindString:
			b.WriteString(strconv.Itoa(len(v.str)))
			b.WriteByte(':')
			b.WriteString(v.str)
		}
		b.WriteByte(0x1f)
	}
	return b.String()
}

// Records renders every row with Column.Format.
func (t *Table) Records() [][]string {
	out := make([][]string, t.rows)
	for i := 0; i < t.rows; i++ {
		rec := make([]string, len(t.columns))
		for j, c := range t.columns {
			rec[j] = c.Format(i)
		}
		out[i] = rec
	}
	return out
}

// Clone returns a deep copy.
func (t *Table) Clone() *Table {
	out := New(t.rows)
	for _, c := range t.columns {
		out.columns = append(out.columns, c.clone())
	}
	out.reindex()
	return out
}

// MissingCount counts empty cells in the named column; unknown columns count 0.
func (t *Table) MissingCount(name string) int {
	c, ok := t.Column(name)
	if !ok {
		return 0
	}
	return c.MissingCount()
}

func (t *Table) reindex() {
	t.index = make(map[string]int, len(t.columns))
	for i, c := range t.columns {
		t.index[c.Name] = i
	}
}
