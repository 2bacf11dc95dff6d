package results

import (
	"encoding/json"
	"io"
	"sort"
)

// JSON document shapes. Group names are category letters, plus DQ-<cat>
// and DNF-<cat> buckets where the last observed position stands in for the
// finish.

type jsonRace struct {
	Race  string      `json:"race"`
	Date  string      `json:"date"`
	Group []jsonGroup `json:"group"`
}

type jsonGroup struct {
	Name    string      `json:"name"`
	Results []jsonEntry `json:"results"`
}

type jsonEntry struct {
	Rider  jsonRider      `json:"rider"`
	Finish jsonFinish     `json:"finish"`
	Cross  []jsonCrossing `json:"cross,omitempty"`
}

type jsonRider struct {
	ID     int64   `json:"id"`
	FName  string  `json:"fname"`
	LName  string  `json:"lname"`
	Cat    string  `json:"cat"`
	Height float64 `json:"height"` // cm
	Weight float64 `json:"weight"` // kg
	Power  string  `json:"power"`
	Male   bool    `json:"male"`
}

type jsonFinish struct {
	Timepos   string  `json:"timepos"`
	Meters    int64   `json:"meters"`
	MWH       int64   `json:"mwh"`
	Duration  int64   `json:"duration"`
	StartMsec int64   `json:"start_msec"`
	EndMsec   int64   `json:"end_msec"`
	Watts     int64   `json:"watts"`
	EstCat    string  `json:"est_cat"`
	Pos       int     `json:"pos"`
	WKG       float64 `json:"wkg"`
	BegHR     int16   `json:"beg_hr"`
	EndHR     int16   `json:"end_hr"`
}

type jsonCrossing struct {
	TimeMS   int64   `json:"time_ms"`
	MWH      int64   `json:"mwh"`
	Line     *int32  `json:"line"`
	Duration int64   `json:"duration"`
	Meters   int64   `json:"meters"`
	HR       int16   `json:"hr"`
	Speed    float64 `json:"speed"`
	Forward  bool    `json:"forward"`
}

// WriteJSON renders the race document to w: one group per category of
// finishers, plus DQ-<cat> and DNF-<cat> buckets ordered by distance.
func (e *Engine) WriteJSON(w io.Writer, riders []*Rider, withSplits bool) error {
	doc := jsonRace{Race: e.Conf.ID, Date: e.Conf.Date}

	for _, cat := range categories(riders) {
		var finish, dq, dnf []*Rider
		for _, r := range riders {
			switch {
			case r.Cat != cat:
			case r.DNF:
				dnf = append(dnf, r)
			case r.DQ:
				dq = append(dq, r)
			default:
				finish = append(finish, r)
			}
		}

		sort.SliceStable(finish, func(i, j int) bool {
			return finish[i].EndTimeMS < finish[j].EndTimeMS
		})
		doc.Group = append(doc.Group, jsonCat(finish, cat, withSplits))

		if len(dq) > 0 {
			doc.Group = append(doc.Group, jsonCat(lastPosAsEnd(dq), "DQ-"+cat, withSplits))
		}
		if len(dnf) > 0 {
			doc.Group = append(doc.Group, jsonCat(lastPosAsEnd(dnf), "DNF-"+cat, withSplits))
		}
	}

	enc := json.NewEncoder(w)
	return enc.Encode(doc)
}

// lastPosAsEnd orders non-finishers by distance ridden and substitutes the
// last observed position for the missing finish.
func lastPosAsEnd(riders []*Rider) []*Rider {
	out := make([]*Rider, 0, len(riders))
	for _, r := range riders {
		if r.DistanceM <= 0 {
			continue
		}
		r.End = &r.Pos[len(r.Pos)-1]
		r.EndTimeMS = r.End.TimeMS
		out = append(out, r)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].DistanceM < out[j].DistanceM })
	return out
}

func jsonCat(riders []*Rider, name string, withSplits bool) jsonGroup {
	grp := jsonGroup{Name: name, Results: []jsonEntry{}}
	var p placer
	for i, r := range riders {
		s := r.Pos[0]
		end := *r.End

		entry := jsonEntry{
			Rider: jsonRider{
				ID:     r.ID,
				FName:  r.FirstName,
				LName:  r.LastName,
				Cat:    r.Cat,
				Height: float64(r.HeightMM) / 10,
				Weight: float64(r.WeightG) / 1000,
				Power:  string(r.PowerMark()),
				Male:   r.Male,
			},
			Finish: jsonFinish{
				Timepos:   p.timepos(s.TimeMS, end.TimeMS),
				Meters:    r.Meters,
				MWH:       r.MWH,
				Duration:  end.DurationMS - s.DurationMS,
				StartMsec: s.TimeMS,
				EndMsec:   end.TimeMS,
				Watts:     r.Watts,
				EstCat:    r.ECat,
				Pos:       i + 1,
				WKG:       r.WKG,
				BegHR:     s.HR,
				EndHR:     end.HR,
			},
		}

		if withSplits {
			for _, pos := range r.Pos[:r.endIndex()+1] {
				entry.Cross = append(entry.Cross, jsonCrossing{
					TimeMS:   pos.TimeMS,
					MWH:      pos.MWH,
					Line:     pos.LineID,
					Duration: pos.DurationMS,
					Meters:   pos.Meters,
					HR:       pos.HR,
					Speed:    float64(pos.Speed) / 1000,
					Forward:  pos.Forward,
				})
			}
		}
		grp.Results = append(grp.Results, entry)
	}
	return grp
}
