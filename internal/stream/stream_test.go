package stream_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChamsBouzaiene/spotter/internal/engine"
	"github.com/ChamsBouzaiene/spotter/internal/engine/protocol"
	"github.com/ChamsBouzaiene/spotter/internal/stream"
)

func receive(t *testing.T, ch <-chan []byte) []byte {
	t.Helper()
	select {
	case msg, ok := <-ch:
		require.True(t, ok, "channel closed")
		return msg
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
		return nil
	}
}

func TestLocalBroker_PublishSubscribe(t *testing.T) {
	b := stream.NewLocalBroker()
	t.Cleanup(func() { b.Close() })
	ctx := context.Background()

	a, cleanupA, err := b.Subscribe(ctx, "session:1")
	require.NoError(t, err)
	defer cleanupA()
	other, cleanupOther, err := b.Subscribe(ctx, "session:2")
	require.NoError(t, err)
	defer cleanupOther()

	require.NoError(t, b.Publish(ctx, "session:1", []byte("hello")))
	assert.Equal(t, []byte("hello"), receive(t, a))
	select {
	case msg := <-other:
		t.Fatalf("unexpected message on other channel: %s", msg)
	default:
	}
}

func TestLocalBroker_CleanupAndClose(t *testing.T) {
	b := stream.NewLocalBroker()

	ctx, cancel := context.WithCancel(context.Background())
	ch, cleanup, err := b.Subscribe(ctx, "session:1")
	require.NoError(t, err)
	cancel()
	_, ok := <-ch
	assert.False(t, ok, "cancelling the context closes the subscription")
	cleanup() // idempotent

	ch2, _, err := b.Subscribe(context.Background(), "session:1")
	require.NoError(t, err)
	require.NoError(t, b.Close())
	_, ok = <-ch2
	assert.False(t, ok)

	assert.ErrorIs(t, b.Publish(context.Background(), "session:1", nil), stream.ErrClosed)
	_, _, err = b.Subscribe(context.Background(), "session:1")
	assert.ErrorIs(t, err, stream.ErrClosed)
}

func TestLocalBroker_SlowSubscriberDrops(t *testing.T) {
	b := stream.NewLocalBroker()
	t.Cleanup(func() { b.Close() })
	ch, cleanup, err := b.Subscribe(context.Background(), "c")
	require.NoError(t, err)
	defer cleanup()

	for range 100 {
		require.NoError(t, b.Publish(context.Background(), "c", []byte("x")))
	}
	assert.Len(t, ch, 64, "buffer fills and the rest is dropped")
}

func TestPublisher(t *testing.T) {
	b := stream.NewLocalBroker()
	t.Cleanup(func() { b.Close() })
	ch, cleanup, err := b.Subscribe(context.Background(), stream.SessionChannel("s1"))
	require.NoError(t, err)
	defer cleanup()

	hook := stream.NewPublisher(b, zerolog.Nop())
	st := &engine.State{SessionID: "s1", TurnID: "t1", Iteration: 1}

	// A cancelled turn context still publishes.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	hook.OnToolCall(ctx, st, engine.ToolCall{ID: "c1", Name: "log_exercise"})

	ev, err := protocol.DecodeEvent(receive(t, ch))
	require.NoError(t, err)
	tool, ok := ev.(protocol.ToolEvent)
	require.True(t, ok)
	assert.Equal(t, protocol.PhaseStarted, tool.Phase)
	assert.Equal(t, "log_exercise", tool.Tool)
}

type failingBroker struct{ stream.Broker }

func (failingBroker) Publish(context.Context, string, []byte) error { return errors.New("down") }

func TestPublisher_FailuresDoNotPanic(t *testing.T) {
	hook := stream.NewPublisher(failingBroker{}, zerolog.Nop())
	assert.NotPanics(t, func() {
		hook.OnStateChange(context.Background(), &engine.State{SessionID: "s1"}, engine.StateCallingModel, engine.StateExecutingTool)
	})
}

func TestSessionChannel(t *testing.T) {
	assert.Equal(t, "session:abc", stream.SessionChannel("abc"))
}
