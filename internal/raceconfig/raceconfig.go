// Package raceconfig parses the keyword-directed race configuration file.
//
// The file is line oriented: `KEYWORD args`, `#` comments, blank lines
// ignored, unknown keywords skipped. Line names appear inside braces, e.g.
//
//	ID      w8topia.1
//	NAME    W8topia Chase Race
//	START   fwd { Start A }
//	CORRAL  rev { Corral }
//	FINISH  fwd { Finish }
//	BEGIN   time=10:00 date=2026-03-01 zone=+01
//	CUTOFF  pace=30
//	CAT     A { delay=0:30 } km 40
package raceconfig

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const mileKM = 1.60934

// Group is a named start cohort with a distance requirement. At most one
// of LeadRiderID / DelayMS is set; with neither, the group starts at the
// race start. StartMS and StarterName are filled in by the results engine
// once rider trajectories are known.
type Group struct {
	Name        string
	DistanceM   float64
	LeadRiderID int64 // 0 = none
	DelayMS     int64 // -1 = none
	StartMS     int64
	StarterName string
}

// Config is the parsed race configuration.
type Config struct {
	ID       string
	Name     string
	Date     string // YYYY-MM-DD, local date of the start
	StartMS  int64
	FinishMS int64

	StartLine     string
	StartForward  bool
	CorralLine    string // "" = no corral
	CorralForward bool
	FinishLine    string
	FinishForward bool

	Alternate bool
	PaceKMH   int64 // 0 = unset
	CutoffMS  int64 // 0 = unset

	Groups []*Group
}

// Parse reads and parses the race configuration at path.
func Parse(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open race config: %w", err)
	}
	defer f.Close()
	return ParseReader(f)
}

// ParseReader parses a race configuration from r.
func ParseReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, val, _ := strings.Cut(line, " ")
		val = strings.TrimSpace(val)

		var err error
		switch key {
		case "ID":
			cfg.ID = val
		case "NAME":
			cfg.Name = val
		case "ALTERNATE":
			cfg.Alternate = true
		case "START":
			cfg.StartForward, cfg.StartLine, err = parseLineSpec(key, val)
		case "CORRAL":
			cfg.CorralForward, cfg.CorralLine, err = parseLineSpec(key, val)
		case "FINISH":
			cfg.FinishForward, cfg.FinishLine, err = parseLineSpec(key, val)
		case "BEGIN":
			err = cfg.parseBegin(val)
		case "CUTOFF":
			err = cfg.parseCutoff(val)
		case "CAT":
			err = cfg.parseCat(val)
		default:
			// Unknown keywords are skipped.
		}
		if err != nil {
			return nil, err
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read race config: %w", err)
	}

	cfg.deriveFinish()
	return cfg, nil
}

// parseLineSpec handles `dir { line name }` for START/CORRAL/FINISH.
func parseLineSpec(key, val string) (forward bool, name string, err error) {
	dir, rest, ok := strings.Cut(val, " ")
	if !ok {
		return false, "", fmt.Errorf("%s: expected `dir { name }`, got %q", key, val)
	}
	name, err = braced(rest)
	if err != nil {
		return false, "", fmt.Errorf("%s: %w", key, err)
	}
	return dir == "fwd", name, nil
}

// braced extracts the content of `{ ... }`.
func braced(s string) (string, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "{") || !strings.HasSuffix(s, "}") {
		return "", fmt.Errorf("could not parse %q", s)
	}
	return strings.TrimSpace(s[1 : len(s)-1]), nil
}

// kvPairs splits `a=1 b=2` into a map.
func kvPairs(s string) map[string]string {
	d := make(map[string]string)
	for _, tok := range strings.Fields(s) {
		if k, v, ok := strings.Cut(tok, "="); ok {
			d[k] = v
		}
	}
	return d
}

var zoneRE = regexp.MustCompile(`^([+-]?)(\d{2}):?(\d{2})?$`)

// parseBegin computes StartMS from `time=HH:MM [date=YYYY-MM-DD]
// [zone=local|zulu|±HH[:MM]]`. Default zone is local, default date today.
func (c *Config) parseBegin(val string) error {
	d := kvPairs(val)
	clock, ok := d["time"]
	if !ok {
		return fmt.Errorf("BEGIN: must specify start time")
	}
	t, err := time.Parse("15:04", clock)
	if err != nil {
		return fmt.Errorf("BEGIN: bad time %q: %w", clock, err)
	}

	day := time.Now()
	if ds, ok := d["date"]; ok {
		day, err = time.Parse("2006-01-02", ds)
		if err != nil {
			return fmt.Errorf("BEGIN: bad date %q: %w", ds, err)
		}
	}

	loc := time.Local
	switch zone := d["zone"]; {
	case zone == "" || zone == "local":
	case zone == "zulu":
		loc = time.UTC
	default:
		m := zoneRE.FindStringSubmatch(zone)
		if m == nil {
			return fmt.Errorf("BEGIN: invalid timezone syntax %q", zone)
		}
		off, _ := strconv.Atoi(m[2])
		offSec := off * 3600
		if m[3] != "" {
			mins, _ := strconv.Atoi(m[3])
			offSec += mins * 60
		}
		if m[1] == "-" {
			offSec = -offSec
		}
		loc = time.FixedZone("UTC"+zone, offSec)
	}

	start := time.Date(day.Year(), day.Month(), day.Day(), t.Hour(), t.Minute(), 0, 0, loc)
	c.StartMS = start.UnixMilli()
	c.Date = start.Local().Format("2006-01-02")
	return nil
}

// parseCutoff handles `pace=<kmh>` and `time=<MM:SS|minutes>`. An explicit
// cutoff time wins over pace when both appear.
func (c *Config) parseCutoff(val string) error {
	d := kvPairs(val)
	if p, ok := d["pace"]; ok {
		pace, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			return fmt.Errorf("CUTOFF: bad pace %q", p)
		}
		c.PaceKMH = pace
	}
	if ts, ok := d["time"]; ok {
		mins, err := parseTimeSpec(ts)
		if err != nil {
			return fmt.Errorf("CUTOFF: %w", err)
		}
		c.CutoffMS = mins * 60 * 1000
	}
	return nil
}

// parseCat handles `CAT name { [id=<lead>] [delay=<MM:SS|sec>] } <km|mi> <dist>`.
func (c *Config) parseCat(val string) error {
	name, rest, ok := strings.Cut(val, " ")
	if !ok {
		return fmt.Errorf("CAT: unable to parse category info %q", val)
	}
	open := strings.Index(rest, "{")
	closing := strings.Index(rest, "}")
	if open < 0 || closing < open {
		return fmt.Errorf("CAT %s: unable to parse category info %q", name, rest)
	}
	opts := kvPairs(rest[open+1 : closing])

	fields := strings.Fields(rest[closing+1:])
	if len(fields) != 2 {
		return fmt.Errorf("CAT %s: expected `<km|mi> <distance>`, got %q", name, rest[closing+1:])
	}
	dist, err := strconv.ParseFloat(fields[1], 64)
	if err != nil {
		return fmt.Errorf("CAT %s: bad distance %q", name, fields[1])
	}
	switch fields[0] {
	case "km":
	case "mi":
		dist *= mileKM
	default:
		return fmt.Errorf("CAT %s: unknown distance specifier %q", name, fields[0])
	}

	grp := &Group{Name: name, DistanceM: dist * 1000, DelayMS: -1}
	if id, ok := opts["id"]; ok {
		grp.LeadRiderID, err = strconv.ParseInt(id, 10, 64)
		if err != nil {
			return fmt.Errorf("CAT %s: bad lead rider id %q", name, id)
		}
	}
	if delay, ok := opts["delay"]; ok {
		if grp.LeadRiderID != 0 {
			return fmt.Errorf("CAT %s: id and delay are mutually exclusive", name)
		}
		sec, err := parseTimeSpec(delay)
		if err != nil {
			return fmt.Errorf("CAT %s: %w", name, err)
		}
		grp.DelayMS = sec * 1000
	}
	c.Groups = append(c.Groups, grp)
	return nil
}

// deriveFinish computes FinishMS once all keywords are parsed: explicit
// cutoff wins, else the pace applied to the longest group distance, else
// two hours.
func (c *Config) deriveFinish() {
	switch {
	case c.CutoffMS != 0:
		c.FinishMS = c.StartMS + c.CutoffMS
	case c.PaceKMH != 0 && len(c.Groups) > 0:
		var maxDist float64
		for _, g := range c.Groups {
			if g.DistanceM > maxDist {
				maxDist = g.DistanceM
			}
		}
		c.FinishMS = c.StartMS + int64(maxDist*36/(float64(c.PaceKMH)*10))*1000
	default:
		c.FinishMS = c.StartMS + 2*3600*1000
	}
}

var timeSpecRE = regexp.MustCompile(`^(\d+):(\d+)$`)

// parseTimeSpec parses `MM:SS` (to the larger unit: m*60+s) or a plain
// integer.
func parseTimeSpec(val string) (int64, error) {
	if m := timeSpecRE.FindStringSubmatch(val); m != nil {
		hi, _ := strconv.ParseInt(m[1], 10, 64)
		lo, _ := strconv.ParseInt(m[2], 10, 64)
		return hi*60 + lo, nil
	}
	n, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("could not parse time %q", val)
	}
	return n, nil
}
