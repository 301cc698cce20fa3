package backend

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskorch/internal/task"
)

func TestSimulatedDeterministicOutput(t *testing.T) {
	sim := NewSimulated("sim-a", SimulatedOptions{})
	req := Request{Kind: task.KindCompletion, Model: "sim-a", Input: map[string]any{"prompt": "hello"}}

	first, err := sim.Invoke(context.Background(), req)
	require.NoError(t, err)
	second, err := sim.Invoke(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, first.Output, second.Output)
	assert.Equal(t, int64(2), sim.Calls())

	out := first.Output.(map[string]any)
	assert.Equal(t, "sim-a", out["model"])
	assert.Equal(t, "completion result from sim-a", out["summary"])
}

func TestSimulatedFailureInjection(t *testing.T) {
	sim := NewSimulated("sim-b", SimulatedOptions{FailEvery: 2, FailMessage: "quota exhausted"})
	_, err := sim.Invoke(context.Background(), Request{})
	require.NoError(t, err)
	_, err = sim.Invoke(context.Background(), Request{})
	require.EqualError(t, err, "quota exhausted")
}

func TestSimulatedLatencyRespectsContext(t *testing.T) {
	sim := NewSimulated("sim-c", SimulatedOptions{Latency: time.Hour})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := sim.Invoke(ctx, Request{})
	assert.ErrorIs(t, err, context.Canceled)
}
