// Package chart turns a query result into a Plotly figure description that
// the browser draws.
package chart

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/nl2sql-eval/backend/internal/metrics"
	"github.com/nl2sql-eval/backend/internal/query"
	"github.com/nl2sql-eval/backend/pkg/logger"
)

var ErrRender = errors.New("failed to render chart")

const (
	TypeBar     = "bar"
	TypeLine    = "line"
	TypePie     = "pie"
	TypeScatter = "scatter"
	TypeTable   = "table"
)

type Spec struct {
	ChartType string  `json:"chart_type"`
	Data      []Trace `json:"data"`
	Layout    Layout  `json:"layout"`
}

type Trace struct {
	Type   string        `json:"type"`
	Name   string        `json:"name,omitempty"`
	Mode   string        `json:"mode,omitempty"`
	X      []any         `json:"x,omitempty"`
	Y      []any         `json:"y,omitempty"`
	Labels []any         `json:"labels,omitempty"`
	Values []any         `json:"values,omitempty"`
	Header *TableSection `json:"header,omitempty"`
	Cells  *TableSection `json:"cells,omitempty"`
}

type TableSection struct {
	Values any    `json:"values"`
	Fill   Fill   `json:"fill"`
	Align  string `json:"align"`
}

type Fill struct {
	Color string `json:"color"`
}

type Layout struct {
	XAxis      *Axis `json:"xaxis,omitempty"`
	YAxis      *Axis `json:"yaxis,omitempty"`
	ShowLegend bool  `json:"showlegend"`
}

type Axis struct {
	Title AxisTitle `json:"title"`
}

type AxisTitle struct {
	Text string `json:"text"`
}

// Render builds a chart for table. A nil or empty table yields nil, nil.
// Unknown chart types render as bar.
func Render(table *query.Table, chartType string) (spec *Spec, err error) {
	if table.Empty() {
		return nil, nil
	}

	resolved := resolve(chartType)

	defer func() {
		if r := recover(); r != nil {
			spec = nil
			err = fmt.Errorf("%w: %v", ErrRender, r)
		}
		status := "success"
		if err != nil {
			status = "error"
			logger.Warn("Chart rendering failed", zap.String("chart_type", resolved), zap.Error(err))
		}
		metrics.ChartsRendered.WithLabelValues(resolved, status).Inc()
	}()

	spec = builders[resolved](table)
	spec.ChartType = resolved
	return spec, nil
}

var builders = map[string]func(*query.Table) *Spec{
	TypeBar:     func(t *query.Table) *Spec { return series(t, "bar", "") },
	TypeLine:    func(t *query.Table) *Spec { return series(t, "scatter", "lines") },
	TypePie:     pie,
	TypeScatter: scatter,
	TypeTable:   grid,
}

func resolve(chartType string) string {
	if _, ok := builders[chartType]; ok {
		return chartType
	}
	return TypeBar
}

func rowIndex(n int) []any {
	idx := make([]any, n)
	for i := range idx {
		idx[i] = i
	}
	return idx
}

// series draws one trace per column against the row index, text columns
// included, the way a wide-form frame is plotted directly.
func series(table *query.Table, traceType, mode string) *Spec {
	cols := make([]int, len(table.Columns))
	for i := range cols {
		cols[i] = i
	}

	x := rowIndex(len(table.Rows))
	traces := make([]Trace, 0, len(cols))
	for _, c := range cols {
		traces = append(traces, Trace{
			Type: traceType,
			Name: table.Columns[c].Name,
			Mode: mode,
			X:    x,
			Y:    table.Values(c),
		})
	}

	return &Spec{
		Data: traces,
		Layout: Layout{
			XAxis:      &Axis{Title: AxisTitle{Text: "index"}},
			YAxis:      &Axis{Title: AxisTitle{Text: "value"}},
			ShowLegend: len(traces) > 1,
		},
	}
}

func pie(table *query.Table) *Spec {
	texts := table.ColumnsOfKind(query.KindText)
	numbers := table.ColumnsOfKind(query.KindNumber)

	trace := Trace{Type: "pie"}
	if len(texts) > 0 && len(numbers) > 0 {
		trace.Labels = table.Values(texts[0])
		trace.Values = table.Values(numbers[0])
		trace.Name = table.Columns[numbers[0]].Name
	} else {
		trace.Labels = rowIndex(len(table.Rows))
		trace.Values = table.Values(0)
		trace.Name = table.Columns[0].Name
	}

	return &Spec{Data: []Trace{trace}, Layout: Layout{ShowLegend: true}}
}

func scatter(table *query.Table) *Spec {
	numbers := table.ColumnsOfKind(query.KindNumber)

	var x, y []any
	var xName, yName string
	if len(numbers) >= 2 {
		x, xName = table.Values(numbers[0]), table.Columns[numbers[0]].Name
		y, yName = table.Values(numbers[1]), table.Columns[numbers[1]].Name
	} else {
		x, xName = rowIndex(len(table.Rows)), "index"
		y, yName = table.Values(0), table.Columns[0].Name
	}

	return &Spec{
		Data: []Trace{{Type: "scatter", Mode: "markers", Name: yName, X: x, Y: y}},
		Layout: Layout{
			XAxis: &Axis{Title: AxisTitle{Text: xName}},
			YAxis: &Axis{Title: AxisTitle{Text: yName}},
		},
	}
}

func grid(table *query.Table) *Spec {
	header := make([]string, len(table.Columns))
	cells := make([][]any, len(table.Columns))
	for i, c := range table.Columns {
		header[i] = c.Name
		cells[i] = table.Values(i)
	}

	return &Spec{
		Data: []Trace{{
			Type:   "table",
			Header: &TableSection{Values: header, Fill: Fill{Color: "paleturquoise"}, Align: "left"},
			Cells:  &TableSection{Values: cells, Fill: Fill{Color: "lavender"}, Align: "left"},
		}},
	}
}
