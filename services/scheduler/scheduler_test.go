package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type stubEngine struct {
	mu       sync.Mutex
	active   []string
	listErr  error
	advanced []string
	fail     map[string]error
}

func (s *stubEngine) ListActiveIDs(context.Context) ([]string, error) {
	return s.active, s.listErr
}

func (s *stubEngine) Advance(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.advanced = append(s.advanced, id)
	if err, ok := s.fail[id]; ok {
		return err
	}
	return nil
}

type stubBus struct {
	mu        sync.Mutex
	published []advanceMsg
	pubErr    error
	handler   func(ctx context.Context, data []byte) error
}

func (b *stubBus) Publish(_ context.Context, _ string, v any) error {
	if b.pubErr != nil {
		return b.pubErr
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var msg advanceMsg
	if err := json.Unmarshal(data, &msg); err != nil {
		return err
	}
	b.mu.Lock()
	b.published = append(b.published, msg)
	b.mu.Unlock()
	return nil
}

func (b *stubBus) Subscribe(_ context.Context, _, _ string, fn func(ctx context.Context, data []byte) error) (io.Closer, error) {
	b.handler = fn
	return io.NopCloser(nil), nil
}

func newTestScheduler(t *testing.T, eng *stubEngine, bus *stubBus) *Scheduler {
	t.Helper()
	s, err := New(eng, bus, time.Second, zerolog.Nop())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return s
}

func TestTickPublishesPerActiveExecution(t *testing.T) {
	eng := &stubEngine{active: []string{"e-1", "e-2"}}
	bus := &stubBus{}
	s := newTestScheduler(t, eng, bus)

	s.tick(context.Background())

	if len(bus.published) != 2 {
		t.Fatalf("published = %d messages, want 2", len(bus.published))
	}
	if bus.published[0].ExecutionID != "e-1" || bus.published[1].ExecutionID != "e-2" {
		t.Fatalf("published = %v", bus.published)
	}
}

func TestTickToleratesListFailure(t *testing.T) {
	eng := &stubEngine{listErr: errors.New("db down")}
	bus := &stubBus{}
	s := newTestScheduler(t, eng, bus)

	s.tick(context.Background())

	if len(bus.published) != 0 {
		t.Fatalf("published = %d messages, want 0", len(bus.published))
	}
}

func TestHandleAdvance(t *testing.T) {
	eng := &stubEngine{}
	s := newTestScheduler(t, eng, &stubBus{})

	msg, _ := json.Marshal(advanceMsg{ExecutionID: "e-1"})
	if err := s.handleAdvance(context.Background(), msg); err != nil {
		t.Fatalf("handleAdvance() error = %v", err)
	}
	if len(eng.advanced) != 1 || eng.advanced[0] != "e-1" {
		t.Fatalf("advanced = %v, want [e-1]", eng.advanced)
	}
}

func TestHandleAdvanceErrorTriggersRedelivery(t *testing.T) {
	eng := &stubEngine{fail: map[string]error{"e-1": errors.New("transient")}}
	s := newTestScheduler(t, eng, &stubBus{})

	msg, _ := json.Marshal(advanceMsg{ExecutionID: "e-1"})
	if err := s.handleAdvance(context.Background(), msg); err == nil {
		t.Fatal("handleAdvance() returned nil, want error so the bus redelivers")
	}
}

func TestHandleAdvanceDropsMalformedMessages(t *testing.T) {
	eng := &stubEngine{}
	s := newTestScheduler(t, eng, &stubBus{})

	if err := s.handleAdvance(context.Background(), []byte("{broken")); err != nil {
		t.Fatalf("handleAdvance() error = %v, want nil for malformed payloads", err)
	}
	if err := s.handleAdvance(context.Background(), []byte(`{"execution_id":""}`)); err != nil {
		t.Fatalf("handleAdvance() error = %v, want nil for empty ids", err)
	}
	if len(eng.advanced) != 0 {
		t.Fatalf("advanced = %v, want none", eng.advanced)
	}
}

func TestRunStopsWithContext(t *testing.T) {
	eng := &stubEngine{}
	bus := &stubBus{}
	s := newTestScheduler(t, eng, bus)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Run() error = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not stop after cancellation")
	}
}
