// Package grpcapi exposes the training controller as the echo.v1.EchoAPI
// gRPC service and provides a client for it.
package grpcapi

import (
	"context"
	"errors"
	"fmt"
	"log"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/kennethnrk/echo/internal/controller/training"
	"github.com/kennethnrk/echo/internal/engine"
	"github.com/kennethnrk/echo/internal/monitor"
	"github.com/kennethnrk/echo/internal/registry"
	"github.com/kennethnrk/echo/internal/response"
)

type echoServer struct {
	ctrl *training.Controller
}

// NewEchoServer creates the EchoAPI implementation backed by ctrl.
func NewEchoServer(ctrl *training.Controller) EchoAPIServer {
	return &echoServer{ctrl: ctrl}
}

// RegisterServices registers all gRPC services with the given gRPC server.
func RegisterServices(s *grpc.Server, ctrl *training.Controller) {
	s.RegisterService(&ServiceDesc, NewEchoServer(ctrl))
}

// Train streams one Struct per stage of the run. A failed run ends with a
// failed event followed by the mapped status error. The run is detached from
// the stream: a client that goes away stops receiving events, but training
// still completes and the model is saved and activated.
func (s *echoServer) Train(req *structpb.Struct, stream grpc.ServerStream) error {
	projectID, err := projectIDField(req)
	if err != nil {
		return err
	}

	var sendErr error
	sink := training.EventFunc(func(ev training.Event) {
		if sendErr != nil {
			return
		}
		msg, err := toStruct(ev)
		if err == nil {
			err = stream.SendMsg(msg)
		}
		if err != nil {
			sendErr = err
			log.Printf("Stopped relaying events for project %s at %s: %v", projectID, ev.Status, err)
		}
	})
	if err := s.ctrl.Train(context.WithoutCancel(stream.Context()), projectID, sink); err != nil {
		return toStatus(err)
	}
	return nil
}

// Predict classifies input with the model of project_id, loading it first
// when another project is active. Without project_id the active model is used.
func (s *echoServer) Predict(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "request cannot be nil")
	}
	input := req.GetFields()["input"].GetStringValue()
	if input == "" {
		return nil, status.Error(codes.InvalidArgument, "input cannot be empty")
	}
	if projectID := req.GetFields()["project_id"].GetStringValue(); projectID != "" {
		if err := s.ctrl.Activate(ctx, projectID); err != nil {
			return nil, toStatus(err)
		}
	}

	res, err := s.ctrl.Predict(ctx, input, req.GetFields()["resolve"].GetBoolValue())
	if err != nil {
		return nil, toStatus(err)
	}
	out, err := toStruct(res)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

// Load activates the saved model of project_id.
func (s *echoServer) Load(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	projectID, err := projectIDField(req)
	if err != nil {
		return nil, err
	}
	found, err := s.ctrl.Load(ctx, projectID)
	if err != nil {
		return nil, toStatus(err)
	}
	if !found {
		return nil, status.Error(codes.NotFound, fmt.Sprintf("%v: %s", training.ErrModelNotFound, projectID))
	}
	return structpb.NewStruct(map[string]any{"loaded": true, "project_id": projectID})
}

// Status reports provider readiness, the active model and host resources.
func (s *echoServer) Status(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	out, err := toStruct(s.ctrl.Status(ctx))
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

func projectIDField(req *structpb.Struct) (string, error) {
	id := req.GetFields()["project_id"].GetStringValue()
	if id == "" {
		return "", status.Error(codes.InvalidArgument, "project_id cannot be empty")
	}
	return id, nil
}

// toStatus maps controller errors onto gRPC codes.
func toStatus(err error) error {
	var code codes.Code
	switch {
	case errors.Is(err, training.ErrInvalidProjectID),
		errors.Is(err, training.ErrInvalidUpload),
		errors.Is(err, engine.ErrUnknownModality),
		errors.Is(err, engine.ErrTooFewIntents),
		errors.Is(err, engine.ErrImageDecode),
		errors.Is(err, response.ErrTransform):
		code = codes.InvalidArgument
	case errors.Is(err, training.ErrProjectNotFound),
		errors.Is(err, training.ErrModelNotFound):
		code = codes.NotFound
	case errors.Is(err, engine.ErrNoModelLoaded),
		errors.Is(err, engine.ErrProviderNotReady),
		errors.Is(err, registry.ErrTrainingInProgress):
		code = codes.FailedPrecondition
	case errors.Is(err, monitor.ErrInsufficientMemory):
		code = codes.ResourceExhausted
	case errors.Is(err, context.Canceled):
		code = codes.Canceled
	case errors.Is(err, context.DeadlineExceeded):
		code = codes.DeadlineExceeded
	default:
		code = codes.Internal
	}
	return status.Error(code, err.Error())
}
