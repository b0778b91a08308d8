package hub

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"

	"github.com/studysprint/hub/internal/auth"
	"github.com/studysprint/hub/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeSink records every frame a room delivers to it. A zero capacity means
// unbounded, a positive capacity makes Enqueue fail once full, and a negative
// one rejects everything, which is how tests exercise backpressure.
type fakeSink struct {
	mu       sync.Mutex
	frames   []Frame
	capacity int
	kicked   bool
	kickCode int
}

func newFakeSink() *fakeSink {
	return &fakeSink{}
}

func newFullSink() *fakeSink {
	return &fakeSink{capacity: -1}
}

func (s *fakeSink) Enqueue(f Frame) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.capacity < 0 || (s.capacity > 0 && len(s.frames) >= s.capacity) {
		return false
	}
	s.frames = append(s.frames, f)
	return true
}

func (s *fakeSink) Kick(code int, _ string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.kicked = true
	s.kickCode = code
}

func (s *fakeSink) Frames() []Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Frame, len(s.frames))
	copy(out, s.frames)
	return out
}

func (s *fakeSink) framesOfKind(kind string) []Frame {
	var out []Frame
	for _, f := range s.Frames() {
		if f.Kind == kind {
			out = append(out, f)
		}
	}
	return out
}

func (s *fakeSink) wasKicked() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.kicked
}

// memStore is an in-memory MessageStore. failAppend makes every Append
// return an error so tests can observe the soft-failure path.
type memStore struct {
	mu         sync.Mutex
	records    map[string][]store.Record
	failAppend bool
	appends    int
	done       chan struct{}
}

func newMemStore() *memStore {
	return &memStore{records: make(map[string][]store.Record)}
}

func (m *memStore) Append(_ context.Context, rec store.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.appends++
	if m.done != nil {
		defer close(m.done)
		m.done = nil
	}
	if m.failAppend {
		return fmt.Errorf("disk on fire")
	}
	m.records[rec.GroupID] = append(m.records[rec.GroupID], rec)
	return nil
}

func (m *memStore) ListSince(_ context.Context, groupID string, cursor uint64, limit int) ([]store.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.Record
	for _, rec := range m.records[groupID] {
		if rec.Seq > cursor {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) LastSeq(_ context.Context, groupID string) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var last uint64
	for _, rec := range m.records[groupID] {
		if rec.Seq > last {
			last = rec.Seq
		}
	}
	return last, nil
}

// nextAppend returns a channel closed on the next Append call, letting tests
// wait for the asynchronous persistence goroutine without sleeping.
func (m *memStore) nextAppend() <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch := make(chan struct{})
	m.done = ch
	return ch
}

// fakeVerifier maps raw tokens to claims.
type fakeVerifier struct {
	tokens map[string]auth.Claims
}

func (v *fakeVerifier) Verify(token string) (auth.Claims, error) {
	claims, ok := v.tokens[token]
	if !ok {
		return auth.Claims{}, fmt.Errorf("unknown token")
	}
	return claims, nil
}
