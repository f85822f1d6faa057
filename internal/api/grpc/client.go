package grpcapi

import (
	"context"
	"errors"
	"fmt"
	"io"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/kennethnrk/echo/internal/controller/training"
)

// Client calls echo.v1.EchoAPI.
type Client struct {
	conn grpc.ClientConnInterface
}

// NewClient wraps an existing connection.
func NewClient(conn grpc.ClientConnInterface) *Client {
	return &Client{conn: conn}
}

// Dial connects to addr without transport security unless opts say otherwise.
// The caller closes the returned connection.
func Dial(addr string, opts ...grpc.DialOption) (*Client, *grpc.ClientConn, error) {
	if len(opts) == 0 {
		opts = []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	}
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}
	return NewClient(conn), conn, nil
}

// Train starts training projectID and calls onEvent for every stage received.
// It returns the stream's status error, if any, after the last event.
func (c *Client) Train(ctx context.Context, projectID string, onEvent func(training.Event)) error {
	req, err := structpb.NewStruct(map[string]any{"project_id": projectID})
	if err != nil {
		return err
	}
	stream, err := c.conn.NewStream(ctx, &ServiceDesc.Streams[0], trainMethod)
	if err != nil {
		return err
	}
	if err := stream.SendMsg(req); err != nil {
		return err
	}
	if err := stream.CloseSend(); err != nil {
		return err
	}

	for {
		msg := new(structpb.Struct)
		if err := stream.RecvMsg(msg); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		var ev training.Event
		if err := fromStruct(msg, &ev); err != nil {
			return fmt.Errorf("decode training event: %w", err)
		}
		if onEvent != nil {
			onEvent(ev)
		}
	}
}

// Predict classifies input. An empty projectID uses the active model.
func (c *Client) Predict(ctx context.Context, projectID, input string, resolve bool) (training.Result, error) {
	req, err := structpb.NewStruct(map[string]any{
		"project_id": projectID,
		"input":      input,
		"resolve":    resolve,
	})
	if err != nil {
		return training.Result{}, err
	}
	var res training.Result
	if err := c.invoke(ctx, predictMethod, req, &res); err != nil {
		return training.Result{}, err
	}
	return res, nil
}

// Load activates the saved model of projectID.
func (c *Client) Load(ctx context.Context, projectID string) error {
	req, err := structpb.NewStruct(map[string]any{"project_id": projectID})
	if err != nil {
		return err
	}
	return c.invoke(ctx, loadMethod, req, nil)
}

// Status fetches the server status.
func (c *Client) Status(ctx context.Context) (training.Status, error) {
	var st training.Status
	if err := c.invoke(ctx, statusMethod, &structpb.Struct{}, &st); err != nil {
		return training.Status{}, err
	}
	return st, nil
}

func (c *Client) invoke(ctx context.Context, method string, req *structpb.Struct, out any) error {
	reply := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, method, req, reply); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return fromStruct(reply, out)
}
