package results

import (
	"fmt"
	"sort"
	"strings"

	"github.com/wiedmann/zlogger/internal/domain"
	"github.com/wiedmann/zlogger/internal/raceconfig"
)

// Behavioral constants of the pipeline. Changing any of these changes
// placement against the existing corpus.
const (
	// StartWindowMS bounds how long after the official start a start-line
	// crossing still counts.
	StartWindowMS = 10 * 60 * 1000
	// LookbackMS extends the position range query before the start to
	// catch very early crossers.
	LookbackMS = 2 * 60 * 1000
	// lateStarterMS: riders starting this long after the race start skip
	// the corral pace check.
	lateStarterMS = 20 * 1000
	// corralPaceKMH is the maximum average pace through the corral.
	corralPaceKMH = 18
	// earlyStartMS: a trimmed start earlier than this before the official
	// start is a DQ.
	earlyStartMS = 30 * 1000
	// groupEarlyAllowanceSec is the jump a finish candidate tolerates
	// before its own group start.
	groupEarlyAllowanceSec = 8
)

// GroupFinish is one rider's finish candidate against one configured
// group. End is nil when the rider never covered the group distance.
type GroupFinish struct {
	Grp      *raceconfig.Group
	End      *domain.Position
	DQTimeMS int64
	DQReason string
}

// Weight scores this candidate for selection: the time delta to the group
// start counts against it, a completed distance counts +10, a candidate DQ
// counts -3.
func (f *GroupFinish) Weight(r *Rider) float64 {
	w := -abs64(f.Grp.StartMS-r.Pos[0].TimeMS) / 1000
	if f.DQReason != "" {
		w -= 3
	}
	if f.End != nil {
		w += 10
	}
	return w
}

func abs64(v int64) float64 {
	if v < 0 {
		v = -v
	}
	return float64(v)
}

// Engine runs the results pipeline for one race. Line ids are the
// canonical chalkline ids resolved from the configured line names.
type Engine struct {
	Conf *raceconfig.Config

	StartLineID  int32
	FinishLineID int32
	CorralLineID int32 // only meaningful when Conf.CorralLine != ""

	// NoCat collapses all riders to category X and buckets results by
	// group name instead.
	NoCat bool
}

// Run executes the pipeline over the raw per-rider trajectories (ordered
// by time, as returned by the range query) and returns the admitted
// riders, fully summarized and ready for placement. info resolves a rider
// profile; it may return nil for unknown riders.
func (e *Engine) Run(positions map[int64][]domain.Position, info func(int64) *domain.RiderProfile) []*Rider {
	all := make(map[int64]*Rider, len(positions))
	for id, pos := range positions {
		r := NewRider(id)
		r.Pos = pos
		all[id] = r
	}

	var admitted []*Rider
	for _, id := range sortedIDs(all) {
		r := all[id]
		if e.filterStart(r) {
			admitted = append(admitted, r)
		}
	}

	for _, r := range admitted {
		r.SetInfo(info(r.ID), e.NoCat)
	}
	for _, r := range admitted {
		e.trimCourse(r)
		e.trimCrash(r)
	}

	for _, grp := range e.Conf.Groups {
		e.resolveGroupStart(grp, all)
		for _, r := range admitted {
			r.finishes = append(r.finishes, newGroupFinish(r, grp))
		}
	}
	for _, r := range admitted {
		e.selectFinish(r)
		r.Summarize()
	}
	return admitted
}

func sortedIDs(m map[int64]*Rider) []int64 {
	ids := make([]int64, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// filterStart finds the rider's start: the last crossing of the start line
// in the expected direction within the start window. Riders without one
// are dropped. Positions before the start are trimmed, the corral pace is
// checked for non-late starters, and starts more than 30 s early are DQs.
func (e *Engine) filterStart(r *Rider) bool {
	start := -1
	for idx, p := range r.Pos {
		if p.TimeMS > e.Conf.StartMS+StartWindowMS {
			break
		}
		if p.LineID != nil && *p.LineID == e.StartLineID && p.Forward == e.Conf.StartForward {
			start = idx
		}
	}
	if start < 0 {
		return false
	}
	s := r.Pos[start]

	// Late starters can fly through the corral; everyone else must have
	// rolled through it slowly.
	if e.Conf.CorralLine != "" && s.TimeMS < e.Conf.StartMS+lateStarterMS {
		for i := start; i >= 0; i-- {
			p := r.Pos[i]
			if p.LineID == nil || *p.LineID != e.CorralLineID {
				continue
			}
			if pace := avgPace(p, s); pace > corralPaceKMH {
				r.SetDQ(p.TimeMS, fmt.Sprintf("Corral: %2d km/h", int(pace)))
			}
			break
		}
	}

	r.Pos = r.Pos[start:]

	if r.Pos[0].TimeMS < e.Conf.StartMS-earlyStartMS {
		t := splitMS(e.Conf.StartMS - r.Pos[0].TimeMS)
		r.SetDQ(r.Pos[0].TimeMS, fmt.Sprintf("Early: -%02d:%02d", t.Min, t.Sec))
	}
	return true
}

// avgPace is km/h between two positions, 0 for a zero time delta.
func avgPace(from, to domain.Position) float64 {
	msec := float64(to.TimeMS - from.TimeMS)
	if msec == 0 {
		return 0
	}
	return float64(to.Meters-from.Meters) / msec * 3600
}

// trimCourse validates finish-line crossings from the second position on.
// Under ALTERNATE the expected direction flips on each crossing. A
// wrong-direction crossing is a DQ and truncates the trajectory before the
// offending position.
func (e *Engine) trimCourse(r *Rider) {
	forward := e.Conf.StartForward
	for idx := 1; idx < len(r.Pos); idx++ {
		p := r.Pos[idx]
		if p.LineID == nil || *p.LineID != e.FinishLineID {
			continue
		}
		if e.Conf.Alternate {
			forward = !forward
		}
		if p.Forward != forward {
			r.SetDQ(p.TimeMS, "WRONG COURSE")
			r.Pos = r.Pos[:idx]
			return
		}
	}
}

// trimCrash scans for a drop in meters, mwh, or duration between
// consecutive positions. Any drop means the client crashed or restarted:
// DQ and truncate. DistanceM tracks the maximum distance ridden.
func (e *Engine) trimCrash(r *Rider) {
	s := r.Pos[0]
	last := s
	r.DistanceM = 0
	for idx := 1; idx < len(r.Pos); idx++ {
		p := r.Pos[idx]
		if p.Meters < last.Meters {
			r.SetDQ(p.TimeMS, "----CRASHED---")
			r.Pos = r.Pos[:idx]
			return
		}
		// A power or duration drop still credits this position's meters;
		// only a meters drop leaves the distance at the previous delta.
		r.DistanceM = p.Meters - s.Meters
		if p.MWH < last.MWH || p.DurationMS < last.DurationMS {
			r.SetDQ(p.TimeMS, "----CRASHED---")
			r.Pos = r.Pos[:idx]
			return
		}
		last = p
	}
}

// resolveGroupStart fixes a group's start time: the lead rider's start
// crossing when configured and present, else the configured delay, else
// the race start.
func (e *Engine) resolveGroupStart(grp *raceconfig.Group, all map[int64]*Rider) {
	if grp.LeadRiderID != 0 {
		if lead, ok := all[grp.LeadRiderID]; ok && len(lead.Pos) > 0 {
			grp.StarterName = lead.Name()
			grp.StartMS = lead.Pos[0].TimeMS
			return
		}
	}
	if grp.DelayMS >= 0 {
		grp.StartMS = e.Conf.StartMS + grp.DelayMS
		return
	}
	grp.StartMS = e.Conf.StartMS
}

// newGroupFinish builds the rider's candidate against grp: the end is the
// first position covering the group distance. A candidate whose rider
// jumped more than 8 s before the group start carries its own early DQ.
func newGroupFinish(r *Rider, grp *raceconfig.Group) *GroupFinish {
	f := &GroupFinish{Grp: grp}
	s := r.Pos[0]
	for idx := 1; idx < len(r.Pos); idx++ {
		if float64(r.Pos[idx].Meters-s.Meters) >= grp.DistanceM {
			f.End = &r.Pos[idx]
			break
		}
	}
	if f.End == nil || s.TimeMS > grp.StartMS {
		return f
	}

	d := (grp.StartMS - s.TimeMS) / 1000
	if d < groupEarlyAllowanceSec {
		return f
	}
	t := splitMS(d * 1000)
	f.DQTimeMS = grp.StartMS
	f.DQReason = fmt.Sprintf("Early: %02d:%02d", t.Min, t.Sec)
	return f
}

// selectFinish picks the rider's finish candidate: when the rider's
// category letter appears in any group name, only those candidates
// compete; otherwise the best-weighted overall wins. Ties keep the
// first-occurring candidate. The selection fixes group, end position, and
// the DQ/DNF split.
func (e *Engine) selectFinish(r *Rider) {
	finish := bestFinish(r, r.finishes)
	if r.Cat == "X" && e.NoCat {
		r.Cat = finish.Grp.Name
	} else {
		var matching []*GroupFinish
		for _, f := range r.finishes {
			if strings.Contains(f.Grp.Name, r.Cat) {
				matching = append(matching, f)
			}
		}
		if len(matching) > 0 {
			finish = bestFinish(r, matching)
		}
	}

	if finish.DQReason != "" && r.DQReason == "" {
		r.SetDQ(finish.DQTimeMS, finish.DQReason)
	}
	r.Grp = finish.Grp
	r.End = finish.End
	if r.End != nil {
		r.EndTimeMS = r.End.TimeMS
	}

	r.DNF = r.End == nil
	r.DQ = r.dqSet && !r.DNF && r.DQTimeMS <= r.EndTimeMS
}

func bestFinish(r *Rider, candidates []*GroupFinish) *GroupFinish {
	best := candidates[0]
	bestW := best.Weight(r)
	for _, f := range candidates[1:] {
		if w := f.Weight(r); w > bestW {
			best, bestW = f, w
		}
	}
	return best
}

// Summarize computes the ride summary from start to the effective end
// (last seen position for a DNF): energy, distance, elapsed time, watts,
// w/kg, and the estimated category.
func (r *Rider) Summarize() {
	s := r.Pos[0]
	e := r.effectiveEnd()

	r.MWH = e.MWH - s.MWH
	r.Meters = e.Meters - s.Meters
	r.MSec = e.TimeMS - s.TimeMS

	var watts float64
	if r.MSec != 0 {
		watts = float64(r.MWH) * 3600 / float64(r.MSec)
	}
	r.Watts = int64(watts)
	r.WKG = 0
	if r.WeightG != 0 {
		r.WKG = float64(int(watts*1000/float64(r.WeightG)*100)) / 100
	}

	switch {
	case r.WKG == 0:
		r.ECat = "X"
	case !r.Male:
		r.ECat = "W"
	case r.WKG > 4:
		r.ECat = "A"
	case r.WKG > 3.2:
		r.ECat = "B"
	case r.WKG > 2.5:
		r.ECat = "C"
	default:
		r.ECat = "D"
	}
}
