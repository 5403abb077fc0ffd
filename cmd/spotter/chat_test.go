package main

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChamsBouzaiene/spotter/internal/engine"
)

func TestRunChat(t *testing.T) {
	var reqs []engine.TurnRequest
	coach := fakeCoach{run: func(_ context.Context, req engine.TurnRequest) (*engine.TurnResult, error) {
		reqs = append(reqs, req)
		switch req.Message {
		case "plan my week":
			return &engine.TurnResult{SessionID: "s1"}, &engine.LoopBoundError{MaxIterations: 8}
		case "boom":
			return nil, errors.New("model down")
		}
		return &engine.TurnResult{SessionID: "s1"}, nil
	}}

	in := strings.NewReader("did 20 squats\n\n   \nplan my week\nboom\n/quit\nnever sent\n")
	var out bytes.Buffer
	require.NoError(t, runChat(context.Background(), coach, in, &out, "u1", ""))

	require.Len(t, reqs, 3)
	assert.Equal(t, engine.TurnRequest{UserID: "u1", Message: "did 20 squats"}, reqs[0])
	assert.Equal(t, "s1", reqs[1].SessionID, "the first turn's session is reused")
	assert.Contains(t, out.String(), "coach ran out of steps after 8 iterations")
	assert.Contains(t, out.String(), "error: model down")
	assert.NotContains(t, out.String(), "never sent")
}
