package results

import (
	"fmt"
	"sort"
	"time"
)

// stSame is the printed marker for a finish within the same-time
// threshold of the previous finisher.
const stSame = "--- ST ---"

// stThresholdMS: consecutive finishers closer than this share a time.
const stThresholdMS = 200

// clockParts is a millisecond duration split for display. Tenth is the
// sub-second part in tenths after rounding the duration up to 100 ms.
type clockParts struct {
	Hour, Min, Sec, Tenth int64
}

func splitMS(ms int64) clockParts {
	ms = (ms + 99) / 100 * 100
	var t clockParts
	t.Hour = ms / time.Hour.Milliseconds()
	ms -= t.Hour * time.Hour.Milliseconds()
	t.Min = ms / time.Minute.Milliseconds()
	ms -= t.Min * time.Minute.Milliseconds()
	t.Sec = ms / 1000
	ms -= t.Sec * 1000
	t.Tenth = ms / 100
	return t
}

// placer assigns finish order and formats each rider's time position. The
// winner's printed time is their own elapsed ride; everyone after is the
// gap to the winner's finish, `+`-prefixed, with sub-200 ms gaps to the
// previous finisher printed as same-time.
type placer struct {
	baseMS int64
	lastMS int64
}

// Place sorts riders by finish time, numbers them, and fills in Timepos.
// The returned slice is the sorted order.
func Place(riders []*Rider) []*Rider {
	sorted := make([]*Rider, len(riders))
	copy(sorted, riders)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].EndTimeMS < sorted[j].EndTimeMS
	})

	var p placer
	for i, r := range sorted {
		r.Place = i + 1
		r.Timepos = p.timepos(r.Pos[0].TimeMS, r.EndTimeMS)
	}
	return sorted
}

func (p *placer) timepos(startMS, finishMS int64) string {
	var curMS int64
	mark := ' '
	switch {
	case p.lastMS == 0:
		// Winner: all later diffs are against this finish.
		p.baseMS = finishMS
		curMS = finishMS - startMS
	case finishMS-p.lastMS < stThresholdMS:
		p.lastMS = finishMS
		return stSame
	default:
		curMS = finishMS - p.baseMS
		mark = '+'
	}
	p.lastMS = finishMS

	t := splitMS(curMS)
	switch {
	case t.Hour != 0:
		return fmt.Sprintf("%2d:%02d:%02d.%d", t.Hour, t.Min, t.Sec, t.Tenth)
	case t.Min != 0:
		return fmt.Sprintf("%c  %2d:%02d.%d", mark, t.Min, t.Sec, t.Tenth)
	case t.Sec != 0:
		return fmt.Sprintf("%c    :%02d.%d", mark, t.Sec, t.Tenth)
	case t.Tenth != 0:
		return fmt.Sprintf("%c    :00.%d", mark, t.Tenth)
	default:
		// Same time is transitive; keep the first rendering.
		return stSame
	}
}

// hms renders a millisecond timestamp as a local wall clock.
func hms(msec int64) string {
	return time.UnixMilli(msec).Local().Format("15:04:05")
}

// stamp is hms with milliseconds.
func stamp(msec int64) string {
	return fmt.Sprintf("%s.%03d", hms(msec), msec%1000)
}

// elapsed renders a millisecond duration.
func elapsed(msec int64) string {
	t := splitMS(msec)
	return fmt.Sprintf("%02d:%02d:%02d.%d", t.Hour, t.Min, t.Sec, t.Tenth)
}

// tzOffset renders the local UTC offset, e.g. "UTC+01:00".
func tzOffset() string {
	_, off := time.Now().Zone()
	sign := "+"
	if off < 0 {
		sign = "-"
		off = -off
	}
	return fmt.Sprintf("UTC%s%02d:%02d", sign, off/3600, off%3600/60)
}
