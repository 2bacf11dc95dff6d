package results

import (
	"fmt"
	"io"
	"sort"
	"strings"
)

// nameCol is the width of the rider name column in the results table.
const nameCol = 28

// TextOptions control the optional columns of the text rendering.
type TextOptions struct {
	// Split appends per-crossing pace splits in km/h.
	Split bool
	// Ident appends rider ids and start/finish stamps.
	Ident bool
}

// WriteText renders the full text results: a header block, one section per
// category, then combined DQ and DNF sections ordered by distance ridden.
func (e *Engine) WriteText(w io.Writer, riders []*Rider, opt TextOptions) {
	conf := e.Conf
	fmt.Fprintln(w, strings.Repeat("=", 80))
	fmt.Fprintf(w, "%s %s   %s: %s\n", strings.Repeat("=", 10), conf.Date, conf.ID, conf.Name)
	fmt.Fprintf(w, "%s     start: %s   cutoff: %s  %s\n",
		strings.Repeat("=", 10), hms(conf.StartMS), hms(conf.FinishMS), tzOffset())
	fmt.Fprintln(w, strings.Repeat("=", 80))

	done := make(map[*Rider]bool)
	for _, cat := range categories(riders) {
		var finish []*Rider
		for _, r := range riders {
			if r.Cat == cat && !r.DQ && !r.DNF {
				finish = append(finish, r)
			}
		}
		e.writeCatResults(w, finish, "CAT "+cat, opt)
		for _, r := range finish {
			done[r] = true
		}
	}

	var dq, dnf []*Rider
	for _, r := range riders {
		switch {
		case done[r]:
		case r.DNF:
			dnf = append(dnf, r)
		case r.DQ:
			dq = append(dq, r)
		}
	}
	if len(dq) > 0 {
		writeNF(w, "DQ, all", byDistanceDesc(dq), opt)
	}
	if len(dnf) > 0 {
		writeNF(w, "DNF, all", byDistanceDesc(dnf), opt)
	}
}

// categories returns the sorted distinct category letters present.
func categories(riders []*Rider) []string {
	seen := make(map[string]bool)
	var cats []string
	for _, r := range riders {
		if !seen[r.Cat] {
			seen[r.Cat] = true
			cats = append(cats, r.Cat)
		}
	}
	sort.Strings(cats)
	return cats
}

// byDistanceDesc orders by distance ridden, dropping zero-distance rides.
func byDistanceDesc(riders []*Rider) []*Rider {
	out := make([]*Rider, 0, len(riders))
	for _, r := range riders {
		if r.DistanceM > 0 {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].DistanceM > out[j].DistanceM })
	return out
}

// writeCatResults prints one category's finisher table.
func (e *Engine) writeCatResults(w io.Writer, finish []*Rider, tag string, opt TextOptions) {
	if len(finish) == 0 {
		return
	}
	grp := finish[0].Grp

	starter := "clock"
	if grp.StarterName != "" {
		starter = grp.StarterName
	}
	h0 := fmt.Sprintf("== START @ %8.8s by %.22s", stamp(grp.StartMS), starter)
	if pad := nameCol + 18 - len(h0); pad > 0 {
		h0 += " " + strings.Repeat("=", pad)
	}
	h0 += strings.Repeat(" ", 16) + " est  ht  hrtrate"

	h1 := fmt.Sprintf("== RESULTS for %s ", tag)
	if pad := nameCol + 19 - len(h1); pad > 0 {
		h1 += strings.Repeat("=", pad)
	}
	h1 += "  km  avgW  W/kg cat  cm  beg end"
	if opt.Split {
		h1 += "  [ split times in km/hr ]"
	}
	if opt.Ident {
		h1 += "      ID [  start time  -  finish time ]"
	}
	fmt.Fprintf(w, "\n%s\n%s\n", h0, h1)

	for _, r := range Place(finish) {
		s := r.Pos[0]
		e := r.effectiveEnd()

		line := fmt.Sprintf("%2d. %s%c  %-*.*s  %5.1f  %3d  %4.2f  %s  %3d  %3d %3d",
			r.Place, r.Timepos, r.PowerMark(),
			nameCol, nameCol, r.Name(),
			r.KM(), r.Watts, r.WKG, r.ECat, r.HeightCM(), s.HR, e.HR)

		if opt.Split {
			line += "  [ " + strings.Join(r.splits(), "  ") + " ]"
		}
		if opt.Ident {
			line += fmt.Sprintf("  %6d [ %s - %s ]", r.ID, stamp(s.TimeMS), stamp(e.TimeMS))
		}
		fmt.Fprintln(w, line)
	}
}

// splits renders the km/h pace of each leg between retained crossings up
// to the finish, plus the overall average.
func (r *Rider) splits() []string {
	s := r.Pos[0]
	end := r.endIndex()

	var out []string
	last := s
	for _, p := range r.Pos[1 : end+1] {
		out = append(out, fmt.Sprintf("%4.1f", avgPace(last, p)))
		last = p
	}
	out = append(out, fmt.Sprintf("= avg %4.1f", avgPace(s, last)))
	return out
}

// endIndex locates the effective end position in the trajectory.
func (r *Rider) endIndex() int {
	if r.End != nil {
		for i := range r.Pos {
			if r.Pos[i].TimeMS == r.End.TimeMS && r.Pos[i].Meters == r.End.Meters {
				return i
			}
		}
	}
	return len(r.Pos) - 1
}

// writeNF prints the DQ or DNF section.
func writeNF(w io.Writer, tag string, riders []*Rider, opt TextOptions) {
	h1 := fmt.Sprintf("==== %s ", tag)
	if pad := 54 - len(h1); pad > 0 {
		h1 += strings.Repeat("=", pad)
	}
	h1 += "  km"
	fmt.Fprintf(w, "\n%s\n", h1)

	for _, r := range riders {
		line := fmt.Sprintf("%-15.15s  %-35.35s  %5.1f", r.DQReason, r.Name(), r.KM())
		if opt.Ident {
			line += fmt.Sprintf("  ID %6d  [ %s -", r.ID, stamp(r.Pos[0].TimeMS))
			if r.End != nil {
				line += " " + stamp(r.End.TimeMS) + " ]"
			}
		}
		fmt.Fprintln(w, line)
	}
}
