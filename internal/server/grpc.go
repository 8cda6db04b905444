package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/matt-riley/surveyz/api/triggerv1"
	"github.com/matt-riley/surveyz/internal/middleware"
	"github.com/matt-riley/surveyz/internal/repository"
	"github.com/matt-riley/surveyz/internal/service"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

const defaultGRPCStreamPollInterval = time.Second

// GRPCServer implements the TriggerService: config fetch, server-side
// trigger evaluation and a server-streaming watch of plan changes.
type GRPCServer struct {
	service            Service
	metrics            Metrics
	streamPollInterval time.Duration
}

var _ triggerv1.TriggerServiceServer = (*GRPCServer)(nil)

// GRPCOption configures a [GRPCServer].
type GRPCOption func(*GRPCServer)

func WithGRPCStreamPollInterval(interval time.Duration) GRPCOption {
	return func(s *GRPCServer) {
		if interval > 0 {
			s.streamPollInterval = interval
		}
	}
}

// WithGRPCMetrics tracks open WatchPlans streams.
func WithGRPCMetrics(m Metrics) GRPCOption {
	return func(s *GRPCServer) { s.metrics = m }
}

func NewGRPCServer(svc Service, opts ...GRPCOption) *GRPCServer {
	if svc == nil {
		panic("service is nil")
	}

	s := &GRPCServer{
		service:            svc,
		streamPollInterval: defaultGRPCStreamPollInterval,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *GRPCServer) GetConfig(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	projectID, err := projectFromContext(ctx)
	if err != nil {
		return nil, err
	}

	cfg, err := s.service.GetConfig(ctx, projectID)
	if err != nil {
		return nil, toGRPCError(err)
	}

	return toStruct(cfg)
}

func (s *GRPCServer) OnEvent(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	projectID, err := projectFromContext(ctx)
	if err != nil {
		return nil, err
	}

	event, ok := stringField(req, "event")
	if !ok || strings.TrimSpace(event) == "" {
		return nil, status.Error(codes.InvalidArgument, "event is required")
	}
	var value *string
	if v, ok := stringField(req, "value"); ok {
		value = &v
	} else if hasField(req, "value") {
		return nil, status.Error(codes.InvalidArgument, "value must be a string")
	}

	res, matched, err := s.service.OnEvent(ctx, projectID, event, value)
	if err != nil {
		return nil, toGRPCError(err)
	}

	return toStruct(toTriggerResponse(res, matched))
}

func (s *GRPCServer) PageOpened(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	projectID, err := projectFromContext(ctx)
	if err != nil {
		return nil, err
	}

	page, ok := stringField(req, "page")
	if !ok || strings.TrimSpace(page) == "" {
		return nil, status.Error(codes.InvalidArgument, "page is required")
	}

	res, matched, err := s.service.PageOpened(ctx, projectID, page)
	if err != nil {
		return nil, toGRPCError(err)
	}

	return toStruct(toTriggerResponse(res, matched))
}

func (s *GRPCServer) WatchPlans(req *structpb.Struct, stream grpc.ServerStreamingServer[structpb.Struct]) error {
	projectID, err := projectFromContext(stream.Context())
	if err != nil {
		return err
	}

	lastEventID, err := parseLastEventIDField(req)
	if err != nil {
		return err
	}

	if s.metrics != nil {
		s.metrics.StreamOpened("grpc")
		defer s.metrics.StreamClosed("grpc")
	}

	sendEvents := func(ctx context.Context) error {
		events, err := s.service.ListEventsSince(ctx, projectID, lastEventID)
		if err != nil {
			return toGRPCError(err)
		}

		for _, event := range events {
			lastEventID = event.EventID
			msg, ok, err := planEventToStruct(event)
			if err != nil {
				return status.Error(codes.Internal, "encode plan event")
			}
			if !ok {
				continue
			}
			if err := stream.Send(msg); err != nil {
				return err
			}
		}

		return nil
	}

	if err := sendEvents(stream.Context()); err != nil {
		return err
	}

	ticker := time.NewTicker(s.streamPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stream.Context().Done():
			return nil
		case <-ticker.C:
			if err := sendEvents(stream.Context()); err != nil {
				return err
			}
		}
	}
}

func projectFromContext(ctx context.Context) (string, error) {
	projectID, ok := middleware.ProjectIDFromContext(ctx)
	if !ok || strings.TrimSpace(projectID) == "" {
		return "", status.Error(codes.Unauthenticated, "unauthenticated")
	}
	return projectID, nil
}

func toGRPCError(err error) error {
	if err == nil {
		return nil
	}

	if _, ok := status.FromError(err); ok {
		return err
	}

	switch {
	case errors.Is(err, service.ErrProjectIDRequired):
		return status.Error(codes.Unauthenticated, "unauthenticated")
	case errors.Is(err, service.ErrInvalidConditions),
		errors.Is(err, service.ErrInvalidPresentation),
		errors.Is(err, service.ErrInvalidSDKConfig):
		return status.Error(codes.InvalidArgument, serviceErrorMessage(err))
	case errors.Is(err, service.ErrPlanNotFound):
		return status.Error(codes.NotFound, "plan not found")
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, "request canceled")
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, "deadline exceeded")
	default:
		return status.Error(codes.Internal, "internal server error")
	}
}

func parseLastEventIDField(req *structpb.Struct) (int64, error) {
	v, ok := req.GetFields()["lastEventId"]
	if !ok {
		return 0, nil
	}
	n, ok := v.GetKind().(*structpb.Value_NumberValue)
	if !ok {
		return 0, status.Error(codes.InvalidArgument, "lastEventId must be a number")
	}
	if n.NumberValue < 0 || n.NumberValue != math.Trunc(n.NumberValue) || n.NumberValue >= math.MaxInt64 {
		return 0, status.Error(codes.InvalidArgument, "lastEventId must be a non-negative integer")
	}
	return int64(n.NumberValue), nil
}

func stringField(req *structpb.Struct, name string) (string, bool) {
	v, ok := req.GetFields()[name]
	if !ok {
		return "", false
	}
	s, ok := v.GetKind().(*structpb.Value_StringValue)
	if !ok {
		return "", false
	}
	return s.StringValue, true
}

func hasField(req *structpb.Struct, name string) bool {
	v, ok := req.GetFields()[name]
	if !ok {
		return false
	}
	_, isNull := v.GetKind().(*structpb.Value_NullValue)
	return !isNull
}

func planEventToStruct(event repository.PlanEvent) (*structpb.Struct, bool, error) {
	eventType := toSSEEventName(event.EventType)
	if eventType == "" {
		return nil, false, nil
	}

	fields := map[string]any{
		"eventId": float64(event.EventID),
		"type":    eventType,
	}
	if event.PlanID != "" {
		fields["planId"] = event.PlanID
	}
	if len(event.Payload) > 0 {
		var payload map[string]any
		if err := json.Unmarshal(event.Payload, &payload); err == nil && payload != nil {
			fields["payload"] = payload
		}
	}

	msg, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, false, err
	}
	return msg, true, nil
}

// toStruct converts v through its JSON form so gRPC clients see the same
// field names as HTTP clients.
func toStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, status.Error(codes.Internal, "encode response")
	}
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, status.Error(codes.Internal, "encode response")
	}
	msg, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, status.Error(codes.Internal, fmt.Sprintf("encode response: %v", err))
	}
	return msg, nil
}
