package feed

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/signalsfoundry/corridor-predictor/internal/logging"
)

const (
	ServiceName     = "corridor.feed.v1.PredictionFeed"
	LatestMethod    = "/" + ServiceName + "/Latest"
	SubscribeMethod = "/" + ServiceName + "/Subscribe"
)

// FeedServer is the server side of the prediction feed. Requests and
// responses are google.protobuf.Struct messages; see codec.go for the
// field layout.
type FeedServer interface {
	Latest(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	Subscribe(req *structpb.Struct, stream grpc.ServerStream) error
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*FeedServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Latest", Handler: latestHandler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "Subscribe", Handler: subscribeHandler, ServerStreams: true},
	},
	Metadata: "corridor/feed/v1/feed.proto",
}

// RegisterFeedServer attaches srv to s.
func RegisterFeedServer(s grpc.ServiceRegistrar, srv FeedServer) {
	s.RegisterService(&serviceDesc, srv)
}

func latestHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(FeedServer).Latest(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: LatestMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(FeedServer).Latest(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func subscribeHandler(srv interface{}, stream grpc.ServerStream) error {
	in := new(structpb.Struct)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(FeedServer).Subscribe(in, stream)
}

// Server serves a Broadcaster over gRPC.
type Server struct {
	feed *Broadcaster
	log  logging.Logger
}

// NewServer wraps feed. A nil logger falls back to Noop.
func NewServer(feed *Broadcaster, log logging.Logger) *Server {
	if log == nil {
		log = logging.Noop()
	}
	return &Server{feed: feed, log: log}
}

// Latest returns the cached prediction for req's aircraft_id.
func (s *Server) Latest(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id := req.GetFields()[fieldAircraftID].GetStringValue()
	if id == "" {
		return nil, ToStatusError(fmt.Errorf("%w: aircraft_id is required", ErrInvalidRequest))
	}
	trace.SpanFromContext(ctx).SetAttributes(attribute.String("aircraft_id", id))

	p, err := s.feed.Latest(id)
	if err != nil {
		return nil, ToStatusError(err)
	}
	msg, err := EncodePrediction(p)
	if err != nil {
		return nil, ToStatusError(err)
	}
	return msg, nil
}

// Subscribe streams predictions until the client goes away or the feed
// closes.
func (s *Server) Subscribe(req *structpb.Struct, stream grpc.ServerStream) error {
	ctx := stream.Context()
	log := logging.FromContext(ctx, s.log)

	r, err := decodeSubscribeRequest(req)
	if err != nil {
		return ToStatusError(err)
	}
	sub, err := s.feed.Subscribe(r.AircraftIDs, r.Replay)
	if err != nil {
		return ToStatusError(err)
	}
	defer sub.Close()
	log.Info(ctx, "feed subscription opened",
		logging.String("subscriber", sub.ID),
		logging.Int("aircraft_filter", len(r.AircraftIDs)))

	for {
		select {
		case <-ctx.Done():
			log.Info(ctx, "feed subscription closed by client", logging.String("subscriber", sub.ID))
			return ToStatusError(ctx.Err())
		case p, ok := <-sub.C:
			if !ok {
				return ToStatusError(ErrFeedClosed)
			}
			msg, err := EncodePrediction(p)
			if err != nil {
				log.Warn(ctx, "skipping unencodable prediction", logging.String("aircraft_id", p.AircraftID), logging.Err(err))
				continue
			}
			if err := stream.SendMsg(msg); err != nil {
				return err
			}
		}
	}
}
