package output

import (
	"io"

	"github.com/olekukonko/tablewriter"
)

// TableRenderer is implemented by results that render as a table.
type TableRenderer interface {
	Headers() []string
	Rows() [][]string
}

func newTable(w io.Writer, separator string) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator(separator)
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("  ")
	table.SetNoWhiteSpace(true)
	return table
}

// PrintTable writes data as a borderless table. A renderer without
// headers is printed as "key: value" lines.
func PrintTable(w io.Writer, data TableRenderer) error {
	headers := data.Headers()
	table := newTable(w, "")
	if len(headers) == 0 {
		table = newTable(w, ":")
		table.SetAutoFormatHeaders(false)
	} else {
		table.SetHeader(headers)
		table.SetAutoFormatHeaders(true)
	}
	table.AppendBulk(data.Rows())
	table.Render()
	return nil
}

// Table is an ad-hoc TableRenderer.
type Table struct {
	headers []string
	rows    [][]string
}

// NewTable creates an empty table with the given column headers.
func NewTable(headers ...string) *Table {
	return &Table{headers: headers, rows: [][]string{}}
}

// AddRow appends a row.
func (t *Table) AddRow(cells ...string) { t.rows = append(t.rows, cells) }

func (t *Table) Headers() []string { return t.headers }
func (t *Table) Rows() [][]string  { return t.rows }

// Fields is an ordered list of key/value pairs rendered without headers.
type Fields [][2]string

// Add appends a pair and returns the extended list.
func (f Fields) Add(key, value string) Fields { return append(f, [2]string{key, value}) }

func (f Fields) Headers() []string { return nil }

func (f Fields) Rows() [][]string {
	rows := make([][]string, len(f))
	for i, kv := range f {
		rows[i] = []string{kv[0], kv[1]}
	}
	return rows
}
