package ec2

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func enabledNumericNames(defs *Definitions) []string {
	var names []string
	for _, v := range defs.Numeric() {
		if !v.Disabled {
			names = append(names, v.Name)
		}
	}
	sort.Strings(names)
	return names
}

func TestWriteJSON_RoundTrip(t *testing.T) {
	defs := loadSample(t)

	var buf bytes.Buffer
	require.NoError(t, WriteJSON(&buf, defs))

	back, err := ReadJSON(bytes.NewReader(buf.Bytes()), "export.json")
	require.NoError(t, err)

	assert.Equal(t, enabledNumericNames(defs), enabledNumericNames(back))

	orig := defs.Variables["RT_ENGINESPEED"]
	got := back.Variables["RT_ENGINESPEED"]
	require.NotNil(t, got)
	assert.Equal(t, orig.Page, got.Page)
	assert.Equal(t, orig.Address, got.Address)
	assert.Equal(t, orig.Bytes, got.Bytes)
	assert.Equal(t, orig.ShortDesc, got.ShortDesc)

	scale := back.Scales[got.PrimaryScale()]
	require.NotNil(t, scale)
	assert.Equal(t, 65535.0, scale.ScaleMaximum)
	assert.Equal(t, "RPM", scale.Units)
}

func TestWriteJSON_Schema(t *testing.T) {
	defs := loadSample(t)

	var buf bytes.Buffer
	require.NoError(t, WriteJSON(&buf, defs))

	var raw map[string]map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &raw))

	assert.NotContains(t, raw, "RT_DEBUGCOUNTER", "disabled variables are not exported")
	assert.NotContains(t, raw, "RT_ECUSTATUS", "string scaled variables are not exported")

	rec := raw["RT_ENGINESPEED"]
	require.NotNil(t, rec)
	assert.Equal(t, "0xf8", rec["page"])
	assert.Equal(t, "0x237c", rec["address"])
	assert.EqualValues(t, 2, rec["bytes"])
	assert.Equal(t, "Engine Speed", rec["short_desc"])
	assert.NotContains(t, rec, "disabled")
	for _, key := range []string{"scale_minimum", "scale_maximum", "display_minimum",
		"display_maximum", "display_interval", "units", "long_desc", "name"} {
		assert.Contains(t, rec, key)
	}
}

func TestWriteCSV_IncludesDisabled(t *testing.T) {
	defs := loadSample(t)

	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, defs))

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 9) // header + 8 numeric variables
	assert.Equal(t, csvHeader, rows[0])

	var found bool
	for _, row := range rows[1:] {
		if row[0] == "RT_DEBUGCOUNTER" {
			found = true
			assert.Equal(t, "disabled", row[4])
			assert.Equal(t, "0xf9", row[1])
		}
	}
	assert.True(t, found)
}

func TestWriteYAML(t *testing.T) {
	defs := loadSample(t)

	var buf bytes.Buffer
	require.NoError(t, WriteYAML(&buf, defs))

	var back map[string]Record
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &back))
	assert.Len(t, back, 7)
	assert.Equal(t, "0x1a", back["RT_AIRTEMP1(LIM)"].Page)
	assert.Equal(t, -40.0, back["RT_AIRTEMP1(LIM)"].ScaleMinimum)
}

func TestReadJSON_BadPage(t *testing.T) {
	_, err := ReadJSON(bytes.NewBufferString(`{"RT_X":{"name":"RT_X","page":"zz","address":"0x10","bytes":1}}`), "x.json")
	require.Error(t, err)

	var ce *ConfigError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "page", ce.Key)
	assert.Equal(t, "RT_X", ce.Record)
}

func TestLoadFile_ByExtension(t *testing.T) {
	defs := loadSample(t)

	var buf bytes.Buffer
	require.NoError(t, WriteJSON(&buf, defs))
	path := filepath.Join(t.TempDir(), "defs.json")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0644))

	fromJSON, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, enabledNumericNames(defs), enabledNumericNames(fromJSON))

	fromEC2, err := LoadFile("testdata/sample.ec2")
	require.NoError(t, err)
	assert.Len(t, fromEC2.Variables, 9)
}
