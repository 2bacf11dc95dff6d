// Package results implements the race results engine: start filtering,
// course and crash trimming, per-group finish candidates with weighted
// selection, ride summaries, category inference, placement, and the text
// and JSON renderings.
package results

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/wiedmann/zlogger/internal/domain"
	"github.com/wiedmann/zlogger/internal/raceconfig"
)

// powerMarks maps power type 0..3 (unknown, zpower, smart trainer, power
// meter) to the display mark printed next to the finish time.
var powerMarks = []rune{'?', '*', ' ', ' '}

// powerTypeNames is the long form used by field-mapped output documents.
var powerTypeNames = []string{"", "zpower", "smart", "meter"}

// Rider carries one rider's trimmed trajectory and, after selection, the
// finish summary. Fields filled in by the pipeline stages are documented
// where they are set.
type Rider struct {
	ID        int64
	FirstName string
	LastName  string
	Cat       string // "X" = unknown
	WeightG   int32
	HeightMM  int32
	Male      bool
	PowerType int16

	Pos []domain.Position

	// DQ bookkeeping. The earliest DQ wins; a DQ is ignored when the
	// rider completed before its timepoint.
	dqSet    bool
	DQTimeMS int64
	DQReason string

	// DistanceM is the maximum distance ridden, set by crash trimming and
	// used to order the DQ/DNF sections.
	DistanceM int64

	finishes []*GroupFinish

	// Selected finish (SelectFinish).
	Grp       *raceconfig.Group
	End       *domain.Position // nil = DNF
	EndTimeMS int64
	DNF       bool
	DQ        bool

	// Ride summary (Summarize).
	MWH    int64
	Meters int64
	MSec   int64
	Watts  int64
	WKG    float64
	ECat   string

	// Placement.
	Place   int
	Timepos string
}

// NewRider returns a rider with the placeholder identity used until the
// profile row is loaded.
func NewRider(id int64) *Rider {
	return &Rider{
		ID:        id,
		FirstName: "Rider",
		LastName:  fmt.Sprint(id),
		Cat:       "X",
	}
}

// SetInfo applies a profile row and re-runs category inference. A nil
// profile keeps the placeholder identity.
func (r *Rider) SetInfo(p *domain.RiderProfile, noCat bool) {
	if p != nil {
		r.FirstName = p.FirstName
		r.LastName = p.LastName
		r.Cat = p.Cat
		if r.Cat == "" {
			r.Cat = "X"
		}
		r.WeightG = p.WeightG
		r.HeightMM = p.HeightMM
		r.Male = p.Male
		r.PowerType = p.PowerType
	}

	if cat := InferCat(r.LastName); cat != "" && cat != "X" {
		r.Cat = cat
	}
	if noCat {
		r.Cat = "X"
	}
}

// Name is the display name.
func (r *Rider) Name() string {
	return r.FirstName + " " + r.LastName
}

// PowerMark is the single display character for the power source.
func (r *Rider) PowerMark() rune {
	if int(r.PowerType) < len(powerMarks) {
		return powerMarks[r.PowerType]
	}
	return '?'
}

// SetDQ records a disqualification at timeMS. The earliest DQ wins.
func (r *Rider) SetDQ(timeMS int64, reason string) {
	if !r.dqSet || timeMS < r.DQTimeMS {
		r.dqSet = true
		r.DQTimeMS = timeMS
		r.DQReason = reason
	}
}

// KM is the distance ridden in kilometers, from the ride summary.
func (r *Rider) KM() float64 {
	return float64(r.Meters) / 1000
}

// HeightCM converts the stored millimeters.
func (r *Rider) HeightCM() int32 {
	return r.HeightMM / 10
}

// WeightKG truncates the stored grams to kilograms.
func (r *Rider) WeightKG() int32 {
	return r.WeightG / 1000
}

// Sex renders M/F for field-mapped output.
func (r *Rider) Sex() string {
	if r.Male {
		return "M"
	}
	return "F"
}

// PowerTypeName is the long form of the power source, "" for unknown.
func (r *Rider) PowerTypeName() string {
	if int(r.PowerType) < len(powerTypeNames) {
		return powerTypeNames[r.PowerType]
	}
	return ""
}

// StartStamp is the wall-clock start with milliseconds.
func (r *Rider) StartStamp() string {
	return stamp(r.Pos[0].TimeMS)
}

// FinishStamp is the wall clock of the effective end.
func (r *Rider) FinishStamp() string {
	return stamp(r.effectiveEnd().TimeMS)
}

// RideElapsed is the summarized ride time.
func (r *Rider) RideElapsed() string {
	return elapsed(r.MSec)
}

// StartHR and FinishHR expose the heart rate at the trajectory endpoints.
func (r *Rider) StartHR() int16 {
	return r.Pos[0].HR
}

func (r *Rider) FinishHR() int16 {
	return r.effectiveEnd().HR
}

// Pace is the average km/h over the summarized ride.
func (r *Rider) Pace() float64 {
	if r.MSec == 0 {
		return 0
	}
	return float64(r.Meters) / float64(r.MSec) * 3600
}

// effectiveEnd is the finish position, or the last observed position for a
// DNF.
func (r *Rider) effectiveEnd() domain.Position {
	if r.End != nil {
		return *r.End
	}
	return r.Pos[len(r.Pos)-1]
}

// Category inference from the last name, in fixed order: parenthesized
// letter at end, bare letter at end, dash letter at end, letter-paren at
// end, dash letter mid-name, parenthesized letter mid-name, letter-paren
// mid-name. The leading greedy .* makes each pattern capture the last
// occurrence. Only ABCDW survive the sanity filter.
var catPatterns = []*regexp.Regexp{
	regexp.MustCompile(`^.*\((.)\)$`),
	regexp.MustCompile(`^.*\s(.)$`),
	regexp.MustCompile(`^.*-(.)$`),
	regexp.MustCompile(`^.*\s(.)\)$`),
	regexp.MustCompile(`^.*-(.)[ )]`),
	regexp.MustCompile(`^.*\((.)\)`),
	regexp.MustCompile(`^.*\s(.)\)`),
}

// InferCat derives a category letter from a last name, or "" when no
// pattern matches.
func InferCat(lastName string) string {
	for _, re := range catPatterns {
		m := re.FindStringSubmatch(lastName)
		if m == nil {
			continue
		}
		cat := strings.ToUpper(m[1])
		if strings.Contains("ABCDW", cat) {
			return cat
		}
		return ""
	}
	return ""
}
