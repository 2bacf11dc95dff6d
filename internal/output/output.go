// Package output renders placed race results through an external
// field-mapping document: a JSON file listing column descriptors that are
// resolved against rider fields. Two renderings exist: a semantic-ui HTML
// page with one color-coded table per category, and a SQL script that
// creates the target table if needed and inserts one row per finisher.
package output

import (
	"encoding/json"
	"fmt"
	"html/template"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/wiedmann/zlogger/internal/results"
)

// Field is one column descriptor: Name is the header (and SQL column),
// Value the rider field key, Type the SQL column type, Class an optional
// css class.
type Field struct {
	Name  string `json:"name"`
	Value string `json:"value"`
	Class string `json:"class,omitempty"`
	Type  string `json:"type,omitempty"`
}

// Template is the parsed field-mapping document.
type Template struct {
	Output string  `json:"output"` // "html" or "sql"
	Table  string  `json:"table,omitempty"`
	Fields []Field `json:"fields"`
}

// Load reads a field-mapping document from path.
func Load(path string) (*Template, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open output template: %w", err)
	}
	defer f.Close()

	var t Template
	if err := json.NewDecoder(f).Decode(&t); err != nil {
		return nil, fmt.Errorf("parse output template %s: %w", path, err)
	}
	if t.Output != "html" && t.Output != "sql" {
		return nil, fmt.Errorf("%s: unknown output function %q", path, t.Output)
	}
	return &t, nil
}

// RaceInfo is the header context for the rendered document.
type RaceInfo struct {
	ID   string
	Name string
	Date string
}

// fieldValue resolves one descriptor key against a placed rider.
func fieldValue(race RaceInfo, r *results.Rider, key string) string {
	switch key {
	case "place":
		return fmt.Sprint(r.Place)
	case "timepos":
		return r.Timepos
	case "name":
		return r.Name()
	case "fname":
		return r.FirstName
	case "lname":
		return r.LastName
	case "cat":
		return r.Cat
	case "ecat":
		return r.ECat
	case "id":
		return fmt.Sprint(r.ID)
	case "km":
		return fmt.Sprintf("%.1f", r.KM())
	case "pace":
		return fmt.Sprintf("%.1f", r.Pace())
	case "watts":
		return fmt.Sprint(r.Watts)
	case "wkg":
		return fmt.Sprintf("%.2f", r.WKG)
	case "height_cm":
		return fmt.Sprint(r.HeightCM())
	case "weight_kg":
		return fmt.Sprint(r.WeightKG())
	case "sex":
		return r.Sex()
	case "age":
		return "0" // not tracked
	case "power":
		return string(r.PowerMark())
	case "power_type":
		return r.PowerTypeName()
	case "date":
		return race.Date
	case "start_msec":
		return r.StartStamp()
	case "finish_msec":
		return r.FinishStamp()
	case "ride_msec":
		return r.RideElapsed()
	case "start_hr":
		return fmt.Sprint(r.StartHR())
	case "finish_hr":
		return fmt.Sprint(r.FinishHR())
	case "ride_uuid":
		return fmt.Sprintf("%s.%s.%d", race.ID, race.Date, r.ID)
	default:
		return ""
	}
}

// catColors maps category letters to semantic-ui table colors.
var catColors = map[string]string{
	"A": "orange", "B": "teal", "C": "green",
	"D": "yellow", "W": "pink", "X": "black",
}

var htmlPage = template.Must(template.New("results").Parse(`<!doctype html>
<html>
<head>
  <meta charset="utf-8">
  <meta name="viewport" content="width=device-width, initial-scale=1.0">
  <title>Race Results</title>
  <link rel="stylesheet" type="text/css"
    href="https://oss.maxcdn.com/semantic-ui/2.1.8/semantic.min.css">
</head>
<body>
<div class="main ui container">
<h2 class="ui dividing header">Results</h2>
<h3 class="ui header">{{.Race.Date}}  {{.Race.ID}}: {{.Race.Name}}</h3>
{{- range .Cats}}
<h4 class="ui horizontal divider header">Cat {{.Cat}}</h4>
<table class="ui {{.Color}} striped table">
<thead><tr>
{{- range $.Headers}}
<th{{if .Class}} class="{{.Class}}"{{end}}>{{.Name}}</th>
{{- end}}
</tr></thead>
<tbody>
{{- range .Rows}}
<tr>
{{- range .}}
<td{{if .Class}} class="{{.Class}}"{{end}}>{{.Value}}</td>
{{- end}}
</tr>
{{- end}}
</tbody>
</table>
{{- end}}
</div>
</body>
</html>
`))

type htmlCell struct {
	Class string
	Value string
}

type htmlCat struct {
	Cat   string
	Color string
	Rows  [][]htmlCell
}

type htmlData struct {
	Race    RaceInfo
	Headers []Field
	Cats    []htmlCat
}

// WriteHTML renders one table per category of finishers. Riders flagged DQ
// or DNF are excluded, matching the text rendering's main sections.
func (t *Template) WriteHTML(w io.Writer, race RaceInfo, riders []*results.Rider) error {
	data := htmlData{Race: race, Headers: t.Fields}
	for _, cat := range finisherCats(riders) {
		color, ok := catColors[cat]
		if !ok {
			color = "grey"
		}
		hc := htmlCat{Cat: cat, Color: color}
		for _, r := range results.Place(finishersIn(riders, cat)) {
			row := make([]htmlCell, len(t.Fields))
			for i, f := range t.Fields {
				row[i] = htmlCell{Class: f.Class, Value: fieldValue(race, r, f.Value)}
			}
			hc.Rows = append(hc.Rows, row)
		}
		data.Cats = append(data.Cats, hc)
	}
	return htmlPage.Execute(w, data)
}

// WriteSQL emits a table-creation statement guarded by IF NOT EXISTS,
// followed by one insert per placed finisher.
func (t *Template) WriteSQL(w io.Writer, race RaceInfo, riders []*results.Rider) error {
	if t.Table == "" {
		return fmt.Errorf("output template: sql output needs a table name")
	}

	cols := make([]string, len(t.Fields))
	defs := make([]string, len(t.Fields))
	for i, f := range t.Fields {
		cols[i] = f.Name
		typ := f.Type
		if typ == "" {
			typ = "text"
		}
		defs[i] = f.Name + " " + typ
	}
	if _, err := fmt.Fprintf(w, "CREATE TABLE IF NOT EXISTS %s (%s);\n",
		t.Table, strings.Join(defs, ", ")); err != nil {
		return err
	}

	for _, cat := range finisherCats(riders) {
		for _, r := range results.Place(finishersIn(riders, cat)) {
			vals := make([]string, len(t.Fields))
			for i, f := range t.Fields {
				vals[i] = quoteSQL(fieldValue(race, r, f.Value))
			}
			if _, err := fmt.Fprintf(w, "INSERT INTO %s (%s) VALUES (%s);\n",
				t.Table, strings.Join(cols, ", "), strings.Join(vals, ", ")); err != nil {
				return err
			}
		}
	}
	return nil
}

func quoteSQL(v string) string {
	return "'" + strings.ReplaceAll(v, "'", "''") + "'"
}

func finisherCats(riders []*results.Rider) []string {
	seen := make(map[string]bool)
	var cats []string
	for _, r := range riders {
		if !r.DQ && !r.DNF && !seen[r.Cat] {
			seen[r.Cat] = true
			cats = append(cats, r.Cat)
		}
	}
	sort.Strings(cats)
	return cats
}

func finishersIn(riders []*results.Rider, cat string) []*results.Rider {
	var out []*results.Rider
	for _, r := range riders {
		if r.Cat == cat && !r.DQ && !r.DNF {
			out = append(out, r)
		}
	}
	return out
}
