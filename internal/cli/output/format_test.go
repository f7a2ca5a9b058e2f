package output

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestParseFormat(t *testing.T) {
	tests := []struct {
		input   string
		want    Format
		wantErr bool
	}{
		{input: "", want: FormatTable},
		{input: "table", want: FormatTable},
		{input: "  JSON ", want: FormatJSON},
		{input: "yaml", want: FormatYAML},
		{input: "yml", want: FormatYAML},
		{input: "xml", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseFormat(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

type report struct {
	Algorithm string `json:"algorithm" yaml:"algorithm"`
	Digest    string `json:"digest" yaml:"digest"`
}

func TestPrinter_Encodings(t *testing.T) {
	r := report{Algorithm: "SHA3-512", Digest: "ab12"}

	var buf bytes.Buffer
	require.NoError(t, NewPrinter(&buf, FormatJSON).Print(r))
	var fromJSON report
	require.NoError(t, json.Unmarshal(buf.Bytes(), &fromJSON))
	assert.Equal(t, r, fromJSON)

	buf.Reset()
	require.NoError(t, NewPrinter(&buf, FormatYAML).Print(r))
	var fromYAML report
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &fromYAML))
	assert.Equal(t, r, fromYAML)
}

func TestPrinter_TableFallsBackToJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewPrinter(&buf, FormatTable).Print(report{Algorithm: "Skein"}))
	assert.Contains(t, buf.String(), `"algorithm": "Skein"`)
}

func TestPrinter_NotefOnlyInTables(t *testing.T) {
	var buf bytes.Buffer
	NewPrinter(&buf, FormatJSON).Notef("wrote %s", "trustkit.yaml")
	assert.Empty(t, buf.String())

	NewPrinter(&buf, FormatTable).Notef("wrote %s", "trustkit.yaml")
	assert.Equal(t, "wrote trustkit.yaml\n", buf.String())
}
