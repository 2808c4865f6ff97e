package query

import (
	"fmt"
	"strings"
)

// Kind is the coarse column class the chart heuristics select on.
type Kind int

const (
	KindText Kind = iota
	KindNumber
	KindBool
	KindTime
	KindOther
)

func (k Kind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindNumber:
		return "number"
	case KindBool:
		return "bool"
	case KindTime:
		return "time"
	default:
		return "other"
	}
}

func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *Kind) UnmarshalText(b []byte) error {
	switch string(b) {
	case "text":
		*k = KindText
	case "number":
		*k = KindNumber
	case "bool":
		*k = KindBool
	case "time":
		*k = KindTime
	case "other":
		*k = KindOther
	default:
		return fmt.Errorf("unknown column kind %q", b)
	}
	return nil
}

type Column struct {
	Name string `json:"name"`
	Type string `json:"type"`
	Kind Kind   `json:"kind"`
}

// Table is a query result. Number cells are float64 or int64, bool cells are
// bool, everything else is a string. Missing values are nil.
type Table struct {
	Columns []Column `json:"columns"`
	Rows    [][]any  `json:"rows"`
}

func (t *Table) Empty() bool {
	return t == nil || len(t.Columns) == 0 || len(t.Rows) == 0
}

// ColumnsOfKind returns the indexes of columns with the given kind.
func (t *Table) ColumnsOfKind(k Kind) []int {
	var idx []int
	for i, c := range t.Columns {
		if c.Kind == k {
			idx = append(idx, i)
		}
	}
	return idx
}

// Values returns column i as a slice.
func (t *Table) Values(i int) []any {
	out := make([]any, len(t.Rows))
	for r, row := range t.Rows {
		if i < len(row) {
			out[r] = row[i]
		}
	}
	return out
}

// KindOf classifies an engine type name such as "varchar", "DECIMAL(10,2)"
// or "timestamp with time zone".
func KindOf(dbType string) Kind {
	t := strings.ToLower(strings.TrimSpace(dbType))
	if i := strings.IndexAny(t, "(<"); i >= 0 {
		t = t[:i]
	}
	t = strings.TrimSpace(t)

	switch t {
	case "tinyint", "smallint", "integer", "int", "bigint", "hugeint", "utinyint", "usmallint",
		"uinteger", "ubigint", "uhugeint", "float", "real", "double", "decimal", "numeric", "int64", "int32":
		return KindNumber
	case "boolean", "bool":
		return KindBool
	case "varchar", "char", "string", "text", "json", "uuid", "enum":
		return KindText
	}
	switch {
	case strings.HasPrefix(t, "timestamp"), strings.HasPrefix(t, "date"), strings.HasPrefix(t, "time"), strings.HasPrefix(t, "interval"):
		return KindTime
	}
	return KindOther
}
