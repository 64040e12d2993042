package feed

import (
	"fmt"
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/signalsfoundry/corridor-predictor/core"
	"github.com/signalsfoundry/corridor-predictor/model"
)

// Predictions travel as google.protobuf.Struct messages. Positions are
// encoded in degrees and metres, times as RFC 3339 strings with
// nanoseconds.
const (
	fieldAircraftID  = "aircraft_id"
	fieldAircraftIDs = "aircraft_ids"
	fieldReplay      = "replay"
	fieldGeneratedAt = "generated_at"
	fieldMotion      = "motion"
	fieldOrigin      = "origin"
	fieldLeft        = "left"
	fieldCentre      = "centre"
	fieldRight       = "right"
)

// EncodePrediction converts p to its wire form.
func EncodePrediction(p model.Prediction) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]interface{}{
		fieldAircraftID:  p.AircraftID,
		fieldGeneratedAt: p.GeneratedAt.UTC().Format(time.RFC3339Nano),
		fieldMotion:      p.Motion.String(),
		fieldOrigin:      stateFields(p.Origin),
		fieldLeft:        pathFields(p.Left),
		fieldCentre:      pathFields(p.Centre),
		fieldRight:       pathFields(p.Right),
	})
}

func pathFields(path []model.AircraftState) []interface{} {
	out := make([]interface{}, len(path))
	for i, s := range path {
		out[i] = stateFields(s)
	}
	return out
}

func stateFields(s model.AircraftState) map[string]interface{} {
	return map[string]interface{}{
		"id":      s.AircraftID,
		"time":    s.Time.UTC().Format(time.RFC3339Nano),
		"alt_m":   s.Position.Altitude,
		"lat_deg": s.Position.LatitudeDegrees(),
		"lon_deg": s.Position.LongitudeDegrees(),
		"v_dr":    s.Velocity.DR,
		"v_dlat":  s.Velocity.DLat,
		"v_dlon":  s.Velocity.DLon,
		"aux":     s.Aux,
	}
}

// DecodePrediction is the inverse of EncodePrediction.
func DecodePrediction(msg *structpb.Struct) (model.Prediction, error) {
	if msg == nil {
		return model.Prediction{}, fmt.Errorf("%w: nil message", ErrInvalidRequest)
	}
	f := msg.GetFields()

	var (
		p   model.Prediction
		err error
	)
	p.AircraftID = f[fieldAircraftID].GetStringValue()
	if p.GeneratedAt, err = parseTime(f[fieldGeneratedAt].GetStringValue()); err != nil {
		return model.Prediction{}, err
	}
	if p.Motion, err = model.ParseMotionState(f[fieldMotion].GetStringValue()); err != nil {
		return model.Prediction{}, err
	}
	if p.Origin, err = decodeState(f[fieldOrigin].GetStructValue()); err != nil {
		return model.Prediction{}, fmt.Errorf("origin: %w", err)
	}
	if p.Left, err = decodePath(f[fieldLeft]); err != nil {
		return model.Prediction{}, fmt.Errorf("left: %w", err)
	}
	if p.Centre, err = decodePath(f[fieldCentre]); err != nil {
		return model.Prediction{}, fmt.Errorf("centre: %w", err)
	}
	if p.Right, err = decodePath(f[fieldRight]); err != nil {
		return model.Prediction{}, fmt.Errorf("right: %w", err)
	}
	return p, nil
}

func decodePath(v *structpb.Value) ([]model.AircraftState, error) {
	values := v.GetListValue().GetValues()
	if len(values) == 0 {
		return nil, nil
	}
	out := make([]model.AircraftState, len(values))
	for i, item := range values {
		s, err := decodeState(item.GetStructValue())
		if err != nil {
			return nil, fmt.Errorf("sample %d: %w", i, err)
		}
		out[i] = s
	}
	return out, nil
}

func decodeState(msg *structpb.Struct) (model.AircraftState, error) {
	if msg == nil {
		return model.AircraftState{}, fmt.Errorf("%w: missing state", ErrInvalidRequest)
	}
	f := msg.GetFields()
	at, err := parseTime(f["time"].GetStringValue())
	if err != nil {
		return model.AircraftState{}, err
	}
	return model.AircraftState{
		AircraftID: f["id"].GetStringValue(),
		Time:       at,
		Position: core.FromDegrees(
			f["alt_m"].GetNumberValue(),
			f["lat_deg"].GetNumberValue(),
			f["lon_deg"].GetNumberValue(),
		),
		Velocity: core.SphericalVelocity{
			DR:   f["v_dr"].GetNumberValue(),
			DLat: f["v_dlat"].GetNumberValue(),
			DLon: f["v_dlon"].GetNumberValue(),
		},
		Aux: f["aux"].GetNumberValue(),
	}, nil
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: bad timestamp %q", ErrInvalidRequest, s)
	}
	return t, nil
}

// subscribeRequest is the decoded form of a Subscribe call.
type subscribeRequest struct {
	AircraftIDs []string
	Replay      bool
}

func encodeSubscribeRequest(r subscribeRequest) (*structpb.Struct, error) {
	ids := make([]interface{}, len(r.AircraftIDs))
	for i, id := range r.AircraftIDs {
		ids[i] = id
	}
	return structpb.NewStruct(map[string]interface{}{
		fieldAircraftIDs: ids,
		fieldReplay:      r.Replay,
	})
}

func decodeSubscribeRequest(msg *structpb.Struct) (subscribeRequest, error) {
	var r subscribeRequest
	f := msg.GetFields()
	for _, v := range f[fieldAircraftIDs].GetListValue().GetValues() {
		id, ok := v.GetKind().(*structpb.Value_StringValue)
		if !ok || id.StringValue == "" {
			return subscribeRequest{}, fmt.Errorf("%w: aircraft_ids must be non-empty strings", ErrInvalidRequest)
		}
		r.AircraftIDs = append(r.AircraftIDs, id.StringValue)
	}
	r.Replay = f[fieldReplay].GetBoolValue()
	return r, nil
}
