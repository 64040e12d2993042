package feed

import (
	"context"
	"errors"
	"io"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/signalsfoundry/corridor-predictor/model"
)

// Client calls a remote prediction feed.
type Client struct {
	conn grpc.ClientConnInterface
}

func NewClient(conn grpc.ClientConnInterface) *Client {
	return &Client{conn: conn}
}

// Latest fetches the most recent prediction for an aircraft.
func (c *Client) Latest(ctx context.Context, aircraftID string, opts ...grpc.CallOption) (model.Prediction, error) {
	req, err := structpb.NewStruct(map[string]interface{}{fieldAircraftID: aircraftID})
	if err != nil {
		return model.Prediction{}, err
	}
	resp := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, LatestMethod, req, resp, opts...); err != nil {
		return model.Prediction{}, err
	}
	return DecodePrediction(resp)
}

// Subscribe opens a prediction stream for the given aircraft, or for all
// aircraft when ids is empty. With replay the server first sends its
// cached latest predictions.
func (c *Client) Subscribe(ctx context.Context, ids []string, replay bool, opts ...grpc.CallOption) (*Stream, error) {
	req, err := encodeSubscribeRequest(subscribeRequest{AircraftIDs: ids, Replay: replay})
	if err != nil {
		return nil, err
	}
	cs, err := c.conn.NewStream(ctx, &serviceDesc.Streams[0], SubscribeMethod, opts...)
	if err != nil {
		return nil, err
	}
	if err := cs.SendMsg(req); err != nil {
		return nil, err
	}
	if err := cs.CloseSend(); err != nil {
		return nil, err
	}
	return &Stream{cs: cs}, nil
}

// Stream is an open subscription.
type Stream struct {
	cs grpc.ClientStream
}

// Recv blocks for the next prediction. It returns io.EOF when the server
// ends the stream cleanly.
func (s *Stream) Recv() (model.Prediction, error) {
	msg := new(structpb.Struct)
	if err := s.cs.RecvMsg(msg); err != nil {
		if errors.Is(err, io.EOF) {
			return model.Prediction{}, io.EOF
		}
		return model.Prediction{}, err
	}
	return DecodePrediction(msg)
}
