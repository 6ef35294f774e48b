package automation

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// MockRunner simulates an automation backend with deterministic output. It
// backs auto mode when no real service is configured, and the pipeline tests.
type MockRunner struct {
	mu         sync.Mutex
	failWith   error
	delay      time.Duration
	seq        atomic.Int64
	output     string
	startCount atomic.Int64
}

func NewMockRunner() *MockRunner {
	return &MockRunner{
		output: "Added 2 items to cart. Review at https://shop.example.com/cart/abc123 before checkout.",
	}
}

func (r *MockRunner) Start(ctx context.Context, instruction string) (Run, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	r.startCount.Add(1)

	id := r.seq.Add(1)
	r.mu.Lock()
	failWith := r.failWith
	delay := r.delay
	output := r.output
	r.mu.Unlock()

	return &mockRun{
		sessionURL:  fmt.Sprintf("https://automation.example.com/sessions/%d", id),
		output:      output,
		failWith:    failWith,
		delay:       delay,
		instruction: instruction,
	}, nil
}

// SetFailure makes subsequent runs fail at Wait until cleared with nil.
func (r *MockRunner) SetFailure(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failWith = err
}

// SetDelay makes Wait block for the given duration before resolving.
func (r *MockRunner) SetDelay(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.delay = d
}

// SetOutput overrides the canned completion output.
func (r *MockRunner) SetOutput(output string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.output = output
}

// StartCount reports how many runs were started.
func (r *MockRunner) StartCount() int {
	return int(r.startCount.Load())
}

type mockRun struct {
	sessionURL  string
	output      string
	failWith    error
	delay       time.Duration
	instruction string
}

func (m *mockRun) SessionURL() string { return m.sessionURL }

func (m *mockRun) Wait(ctx context.Context) (Result, error) {
	if m.delay > 0 {
		select {
		case <-ctx.Done():
			return Result{}, ctx.Err()
		case <-time.After(m.delay):
		}
	}
	if m.failWith != nil {
		return Result{}, m.failWith
	}
	return Result{Output: m.output}, nil
}
