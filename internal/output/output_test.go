package output

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wiedmann/zlogger/internal/domain"
	"github.com/wiedmann/zlogger/internal/results"
)

func testRider(id int64, fname, lname, cat string, endMS int64) *results.Rider {
	line := int32(2)
	end := domain.Position{TimeMS: endMS, LineID: &line, Forward: true, Meters: 41000}
	r := &results.Rider{
		ID:        id,
		FirstName: fname,
		LastName:  lname,
		Cat:       cat,
		WeightG:   72000,
		HeightMM:  1810,
		Male:      true,
		Pos: []domain.Position{
			{TimeMS: endMS - 3600_000, Meters: 1000},
			end,
		},
		End:       &end,
		EndTimeMS: endMS,
		Meters:    40000,
		MSec:      3600_000,
		Watts:     250,
		WKG:       3.47,
		ECat:      "B",
	}
	return r
}

func testTemplate(kind string) *Template {
	return &Template{
		Output: kind,
		Table:  "race_results",
		Fields: []Field{
			{Name: "pos", Value: "place", Type: "int"},
			{Name: "rider", Value: "name", Class: "left aligned"},
			{Name: "km", Value: "km"},
			{Name: "wkg", Value: "wkg"},
		},
	}
}

var testRace = RaceInfo{ID: "test.1", Name: "Test Race", Date: "2026-03-01"}

func TestWriteHTML(t *testing.T) {
	riders := []*results.Rider{
		testRider(101, "Ann", "Alpha", "A", 1_700_003_600_000),
		testRider(102, "Bob", "Beta", "B", 1_700_003_700_000),
	}

	var buf bytes.Buffer
	tmpl := testTemplate("html")
	require.NoError(t, tmpl.WriteHTML(&buf, testRace, riders))
	out := buf.String()

	assert.Contains(t, out, "test.1: Test Race")
	assert.Contains(t, out, `<table class="ui orange striped table">`)
	assert.Contains(t, out, `<table class="ui teal striped table">`)
	assert.Contains(t, out, "Cat A")
	assert.Contains(t, out, "Ann Alpha")
	assert.Contains(t, out, `<td class="left aligned">Bob Beta</td>`)
	assert.Contains(t, out, "<th>km</th>")
}

func TestWriteSQL(t *testing.T) {
	riders := []*results.Rider{
		testRider(101, "Pat", "O'Brien", "A", 1_700_003_600_000),
	}

	var buf bytes.Buffer
	tmpl := testTemplate("sql")
	require.NoError(t, tmpl.WriteSQL(&buf, testRace, riders))
	out := buf.String()

	assert.Contains(t, out,
		"CREATE TABLE IF NOT EXISTS race_results (pos int, rider text, km text, wkg text);")
	assert.Contains(t, out, "INSERT INTO race_results (pos, rider, km, wkg)")
	assert.Contains(t, out, "'Pat O''Brien'")
	assert.Contains(t, out, "'40.0'")
}

func TestSQLNeedsTable(t *testing.T) {
	tmpl := testTemplate("sql")
	tmpl.Table = ""
	err := tmpl.WriteSQL(&bytes.Buffer{}, testRace, nil)
	assert.Error(t, err)
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.json")
	doc := `{"output":"html","fields":[{"name":"pos","value":"place"}]}`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	tmpl, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "html", tmpl.Output)
	require.Len(t, tmpl.Fields, 1)
	assert.Equal(t, "place", tmpl.Fields[0].Value)

	require.NoError(t, os.WriteFile(path, []byte(`{"output":"csv"}`), 0o644))
	_, err = Load(path)
	assert.Error(t, err)
}
