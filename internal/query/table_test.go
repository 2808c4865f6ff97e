package query

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindOf(t *testing.T) {
	tests := map[string]Kind{
		"varchar":                  KindText,
		"VARCHAR":                  KindText,
		"bigint":                   KindNumber,
		"decimal(10,2)":            KindNumber,
		"DOUBLE":                   KindNumber,
		"boolean":                  KindBool,
		"date":                     KindTime,
		"timestamp with time zone": KindTime,
		"array<varchar>":           KindOther,
		"map":                      KindOther,
	}
	for typ, want := range tests {
		assert.Equal(t, want, KindOf(typ), typ)
	}
}

func TestTable_Helpers(t *testing.T) {
	table := &Table{
		Columns: []Column{
			{Name: "month", Kind: KindText},
			{Name: "revenue", Kind: KindNumber},
			{Name: "orders", Kind: KindNumber},
		},
		Rows: [][]any{{"jan", 10.5, int64(3)}, {"feb", 12.0, int64(4)}},
	}

	assert.False(t, table.Empty())
	assert.Equal(t, []int{1, 2}, table.ColumnsOfKind(KindNumber))
	assert.Equal(t, []any{"jan", "feb"}, table.Values(0))

	var nilTable *Table
	assert.True(t, nilTable.Empty())
	assert.True(t, (&Table{Columns: table.Columns}).Empty())
}

func TestKind_JSON(t *testing.T) {
	data, err := json.Marshal(Column{Name: "n", Type: "bigint", Kind: KindNumber})
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"n","type":"bigint","kind":"number"}`, string(data))

	var c Column
	require.NoError(t, json.Unmarshal(data, &c))
	assert.Equal(t, KindNumber, c.Kind)
}
