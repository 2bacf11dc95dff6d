package ingest

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/wiedmann/zlogger/internal/domain"
)

// errUndecodable marks a record whose attribute block failed to decode.
// Like a missing field, it is a defect of the record, not of storage.
var errUndecodable = errors.New("undecodable attributes")

// Event kinds appearing in the zlogger log. Unknown kinds are logged and
// skipped, not rejected.
const (
	KindLine     = "LINE"
	KindNearby   = "NEARBY"
	KindPos      = "POS"
	KindTele     = "TELE"
	KindShutdown = "SHUTDOWN"
	KindChat     = "CHAT"
)

// errMissingField marks a structurally valid record lacking a required
// attribute. The loop warns and advances.
type errMissingField struct {
	kind, field string
}

func (e *errMissingField) Error() string {
	return fmt.Sprintf("%s record missing %q", e.kind, e.field)
}

// boolish accepts JSON true/false as well as the 0/1 some observer
// versions emit.
type boolish bool

func (b *boolish) UnmarshalJSON(data []byte) error {
	switch string(data) {
	case "true", "1":
		*b = true
	case "false", "0", "null":
		*b = false
	default:
		return fmt.Errorf("invalid boolean %q", data)
	}
	return nil
}

// record is the raw decoded shape of one log line: a kind tag, an optional
// top-level observation time, and a kind-specific attribute map.
type record struct {
	E    string          `json:"e"`
	MSec int64           `json:"msec"`
	V    json.RawMessage `json:"v"`
}

// lineEvent announces an observer-local chalkline.
type lineEvent struct {
	Line *int32          `json:"line"`
	Name *string         `json:"name"`
	Data json.RawMessage `json:"data"`
}

func (r record) lineEvent() (localID int32, name, data string, err error) {
	var v lineEvent
	if err := json.Unmarshal(r.V, &v); err != nil {
		return 0, "", "", fmt.Errorf("%w: LINE: %v", errUndecodable, err)
	}
	if v.Line == nil {
		return 0, "", "", &errMissingField{KindLine, "line"}
	}
	if v.Name == nil {
		return 0, "", "", &errMissingField{KindLine, "name"}
	}
	return *v.Line, *v.Name, string(v.Data), nil
}

// nearbyEvent reports proximity to a local chalkline; v.data carries the
// source line id.
type nearbyEvent struct {
	Data *int32 `json:"data"`
}

func (r record) nearbyEvent() (localID int32, err error) {
	var v nearbyEvent
	if err := json.Unmarshal(r.V, &v); err != nil {
		return 0, fmt.Errorf("%w: NEARBY: %v", errUndecodable, err)
	}
	if v.Data == nil {
		return 0, &errMissingField{KindNearby, "data"}
	}
	return *v.Data, nil
}

// posEvent is the shared attribute set of POS and TELE records.
type posEvent struct {
	ID   *int64  `json:"id"`
	Line *int32  `json:"line"`
	Rad  *int32  `json:"rad"`
	Fwd  boolish `json:"fwd"`
	M    *int64  `json:"m"`
	MWH  *int64  `json:"mwh"`
	Dur  *int64  `json:"dur"`
	Ele  int32   `json:"ele"`
	Spd  int32   `json:"spd"`
	HR   int16   `json:"hr"`
	Obs  *int32  `json:"obs"`
	LPUP int32   `json:"lpup"`
	PUP  string  `json:"pup"`
	Cad  int16   `json:"cad"`
	Grp  int32   `json:"grp"`
}

func (r record) posEvent() (posEvent, error) {
	var v posEvent
	if err := json.Unmarshal(r.V, &v); err != nil {
		return v, fmt.Errorf("%w: %s: %v", errUndecodable, r.E, err)
	}
	for field, missing := range map[string]bool{
		"id":  v.ID == nil,
		"m":   v.M == nil,
		"mwh": v.MWH == nil,
		"dur": v.Dur == nil,
		"obs": v.Obs == nil,
	} {
		if missing {
			return v, &errMissingField{r.E, field}
		}
	}
	if r.E == KindPos && v.Line == nil {
		return v, &errMissingField{KindPos, "line"}
	}
	return v, nil
}

// position builds the persisted/published Position with the canonical
// line id already resolved.
func (v posEvent) position(msec int64, lineID int32) domain.Position {
	return domain.Position{
		TimeMS:     msec,
		RiderID:    *v.ID,
		LineID:     &lineID,
		Forward:    bool(v.Fwd),
		Meters:     *v.M,
		MWH:        *v.MWH,
		DurationMS: *v.Dur,
		Elevation:  v.Ele,
		Speed:      v.Spd,
		HR:         v.HR,
		MonitorID:  *v.Obs,
		LPUP:       v.LPUP,
		PUP:        v.PUP,
		Cadence:    v.Cad,
		GroupID:    v.Grp,
	}
}

// telemetry builds the Telemetry row; rad defaults to zero when absent.
func (v posEvent) telemetry(msec int64) domain.Telemetry {
	var rad int32
	if v.Rad != nil {
		rad = *v.Rad
	}
	return domain.Telemetry{
		TimeMS:     msec,
		RiderID:    *v.ID,
		Rad:        rad,
		Forward:    bool(v.Fwd),
		Meters:     *v.M,
		MWH:        *v.MWH,
		DurationMS: *v.Dur,
		Elevation:  v.Ele,
		Speed:      v.Spd,
		HR:         v.HR,
		MonitorID:  *v.Obs,
		LPUP:       v.LPUP,
		PUP:        v.PUP,
		Cadence:    v.Cad,
		GroupID:    v.Grp,
	}
}

// chatEvent is a chat record embedded in the observer log.
type chatEvent struct {
	RiderID     *int64 `json:"riderid"`
	Msg         *string `json:"msg"`
	Time        *string `json:"time"`
	PartialName string  `json:"partialName"`
}

func (r record) chatEvent() (domain.ChatMessage, error) {
	var v chatEvent
	if err := json.Unmarshal(r.V, &v); err != nil {
		return domain.ChatMessage{}, fmt.Errorf("%w: CHAT: %v", errUndecodable, err)
	}
	for field, missing := range map[string]bool{
		"riderid": v.RiderID == nil,
		"msg":     v.Msg == nil,
		"time":    v.Time == nil,
	} {
		if missing {
			return domain.ChatMessage{}, &errMissingField{KindChat, field}
		}
	}
	return domain.ChatMessage{
		Time:        *v.Time,
		RiderID:     *v.RiderID,
		PartialName: v.PartialName,
		Msg:         *v.Msg,
	}, nil
}
