package grpcapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/kennethnrk/echo/internal/common/constants"
	"github.com/kennethnrk/echo/internal/controller/runs"
	"github.com/kennethnrk/echo/internal/controller/training"
	"github.com/kennethnrk/echo/internal/embedding"
	"github.com/kennethnrk/echo/internal/engine"
	"github.com/kennethnrk/echo/internal/modelstore"
	"github.com/kennethnrk/echo/internal/monitor"
	"github.com/kennethnrk/echo/internal/registry"
	"github.com/kennethnrk/echo/internal/response"
	"github.com/kennethnrk/echo/internal/store"
)

const projectSource = `{
  "type": "text",
  "inputs": [
    {"name": "greet", "patterns": ["hi", "hello"],
     "response": {"type": "static", "content": {"static": "Hello!"}, "script": {"enabled": true, "content": "content + \"?\""}}},
    {"name": "bye", "patterns": ["bye", "goodbye"],
     "response": {"type": "static", "content": {"static": "Goodbye!"}}}
  ]
}`

type harness struct {
	client *Client
	reg    *registry.Registry
	root   string
	ledger *store.Store
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "chat"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "chat", training.SourceFile), []byte(projectSource), 0o644))

	e := engine.New(engine.Config{LearningRate: 0.01, Seed: 7})
	require.NoError(t, e.Init(context.Background(), embedding.Opener(embedding.Config{Kind: embedding.KindHash, Dimension: 64})))
	ledger, err := store.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { ledger.Close() })

	reg := registry.New()
	ctrl := training.New(e, reg, training.NewFSSource(root), response.New(nil), ledger, monitor.New(0))

	lis := bufconn.Listen(1 << 20)
	s := grpc.NewServer()
	RegisterServices(s, ctrl)
	go s.Serve(lis)
	t.Cleanup(s.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	return &harness{client: NewClient(conn), reg: reg, root: root, ledger: ledger}
}

func TestTrainStreamOrdering(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	var events []training.Event
	require.NoError(t, h.client.Train(ctx, "chat", func(ev training.Event) {
		events = append(events, ev)
	}))

	require.Len(t, events, 37)
	last := 0
	for _, ev := range events[:35] {
		require.Equal(t, constants.RunStatusTraining, ev.Status)
		require.NotNil(t, ev.Progress)
		assert.GreaterOrEqual(t, *ev.Progress, last)
		last = *ev.Progress
	}
	assert.Equal(t, 100, last)
	assert.Equal(t, constants.RunStatusSaving, events[35].Status)
	assert.Equal(t, constants.RunStatusCompleted, events[36].Status)

	res, err := h.client.Predict(ctx, "", "hello", true)
	require.NoError(t, err)
	assert.Equal(t, "chat", res.ProjectID)
	assert.Equal(t, 0, res.Index)
	assert.Equal(t, "Hello!?", res.Content)
	assert.Equal(t, `"Hello!"`, string(res.Response.Content))

	st, err := h.client.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, constants.ProviderStateReady, st.Provider)
	assert.Equal(t, "chat", st.ActiveProject)
	assert.Equal(t, constants.ModalityText, st.ActiveModality)
	assert.NotNil(t, st.TrainedAt)
}

func TestTrainOutlivesCancelledClient(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var received int
	err := h.client.Train(ctx, "chat", func(training.Event) {
		received++
		cancel()
	})
	if err != nil {
		assert.Equal(t, codes.Canceled, status.Code(err))
	}
	require.GreaterOrEqual(t, received, 1)

	require.Eventually(t, func() bool {
		active, ok := h.reg.Current()
		_, busy := h.reg.Training()
		return ok && active.ProjectID == "chat" && !busy
	}, 30*time.Second, 10*time.Millisecond)

	saved, err := modelstore.Exists(filepath.Join(h.root, "chat", training.OutputDir))
	require.NoError(t, err)
	assert.True(t, saved)
	run, found, err := runs.LastCompletedRun(h.ledger, "chat")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, constants.RunStatusCompleted, run.Status)

	res, err := h.client.Predict(context.Background(), "", "goodbye", false)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Index)
}

func TestTrainFailureEndsWithStatus(t *testing.T) {
	h := newHarness(t)

	var events []training.Event
	err := h.client.Train(context.Background(), "missing", func(ev training.Event) {
		events = append(events, ev)
	})
	assert.Equal(t, codes.NotFound, status.Code(err))
	require.Len(t, events, 1)
	assert.Equal(t, constants.RunStatusFailed, events[0].Status)
	assert.Contains(t, events[0].Error, "project not found")

	require.NoError(t, h.reg.TryBeginTraining("other"))
	err = h.client.Train(context.Background(), "chat", nil)
	assert.Equal(t, codes.FailedPrecondition, status.Code(err))
	h.reg.EndTraining()

	err = h.client.Train(context.Background(), "", nil)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestPredictLoadsRequestedProject(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.client.Predict(ctx, "", "hello", false)
	assert.Equal(t, codes.FailedPrecondition, status.Code(err))

	err = h.client.Load(ctx, "chat")
	assert.Equal(t, codes.NotFound, status.Code(err), "not trained yet")

	require.NoError(t, h.client.Train(ctx, "chat", nil))
	h.reg.Clear()

	res, err := h.client.Predict(ctx, "chat", "goodbye", false)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Index)
	assert.Nil(t, res.Content)

	h.reg.Clear()
	require.NoError(t, h.client.Load(ctx, "chat"))
	_, ok := h.reg.Instance()
	assert.True(t, ok)

	_, err = h.client.Predict(ctx, "chat", "", false)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
	err = h.client.Load(ctx, "../chat")
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestToStatus(t *testing.T) {
	cases := []struct {
		err  error
		want codes.Code
	}{
		{engine.ErrTooFewIntents, codes.InvalidArgument},
		{engine.ErrUnknownModality, codes.InvalidArgument},
		{training.ErrInvalidProjectID, codes.InvalidArgument},
		{training.ErrInvalidUpload, codes.InvalidArgument},
		{training.ErrProjectNotFound, codes.NotFound},
		{training.ErrModelNotFound, codes.NotFound},
		{engine.ErrNoModelLoaded, codes.FailedPrecondition},
		{engine.ErrProviderNotReady, codes.FailedPrecondition},
		{registry.ErrTrainingInProgress, codes.FailedPrecondition},
		{monitor.ErrInsufficientMemory, codes.ResourceExhausted},
		{fmt.Errorf("%w: %w", engine.ErrTrainingFailure, context.Canceled), codes.Canceled},
		{engine.ErrTrainingFailure, codes.Internal},
	}
	for _, tc := range cases {
		got := status.Code(toStatus(fmt.Errorf("wrapped: %w", tc.err)))
		assert.Equal(t, tc.want, got, tc.err.Error())
	}
}

func TestStructConversion(t *testing.T) {
	progress := 42
	s, err := toStruct(training.Event{Status: constants.RunStatusTraining, Progress: &progress})
	require.NoError(t, err)
	assert.Equal(t, "training", s.GetFields()["status"].GetStringValue())
	assert.Equal(t, float64(42), s.GetFields()["progress"].GetNumberValue())
	_, hasError := s.GetFields()["error"]
	assert.False(t, hasError)

	var back training.Event
	require.NoError(t, fromStruct(s, &back))
	require.NotNil(t, back.Progress)
	assert.Equal(t, 42, *back.Progress)

	_, err = toStruct(json.RawMessage(`[1]`))
	assert.Error(t, err, "only objects become structs")
}
