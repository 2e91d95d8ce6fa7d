package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/sessiongraph/sessiongraph/event"
)

func TestLinearizedConcurrentAppends(t *testing.T) {
	s := newTestStore(t)
	res := newTestSession(t, s)
	sessionID := res.Session.ID
	baseSeq := res.RootEvent.Sequence

	l := NewLinearizer(s)
	const n = 20

	var wg sync.WaitGroup
	results := make(chan *event.Event, n)
	errs := make(chan error, n)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			evt, err := l.Append(context.Background(), AppendOptions{
				SessionID: sessionID,
				Type:      event.TypeMessageUser,
				Payload:   json.RawMessage(fmt.Sprintf(`{"content":"msg %d"}`, i)),
			})
			if err != nil {
				errs <- err
				return
			}
			results <- evt
		}(i)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("timeout waiting for concurrent appends")
	}
	close(results)
	close(errs)

	for err := range errs {
		t.Fatalf("append failed: %v", err)
	}

	// All n events committed with contiguous sequences after the root
	var seqs []int64
	for evt := range results {
		seqs = append(seqs, evt.Sequence)
	}
	if len(seqs) != n {
		t.Fatalf("got %d events", len(seqs))
	}
	sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })
	for i, seq := range seqs {
		want := baseSeq + int64(i) + 1
		if seq != want {
			t.Errorf("sequence[%d] = %d, want %d", i, seq, want)
		}
	}

	// The chain is linear: every event's parent is the previous one
	events, err := s.GetEvents(sessionID)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != n+1 {
		t.Fatalf("chain length = %d", len(events))
	}
	for i := 1; i < len(events); i++ {
		if *events[i].ParentID != events[i-1].ID {
			t.Errorf("chain broken at %d", i)
		}
	}
}

func TestLinearizerOrderPreserved(t *testing.T) {
	s := newTestStore(t)
	res := newTestSession(t, s)
	sessionID := res.Session.ID

	l := NewLinearizer(s)

	// Enqueued from one goroutine, appends must land in enqueue order
	for i := 0; i < 5; i++ {
		l.AppendAsync(AppendOptions{
			SessionID: sessionID,
			Type:      event.TypeMessageUser,
			Payload:   json.RawMessage(fmt.Sprintf(`{"content":"msg %d"}`, i)),
		}, nil)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := l.Flush(ctx, sessionID); err != nil {
		t.Fatalf("flush: %v", err)
	}

	events, err := s.GetEvents(sessionID)
	if err != nil {
		t.Fatal(err)
	}
	for i, e := range events[1:] {
		want := fmt.Sprintf(`{"content":"msg %d"}`, i)
		if string(e.Payload) != want {
			t.Errorf("event %d payload = %s, want %s", i, e.Payload, want)
		}
	}
}

func TestAppendAsyncCallback(t *testing.T) {
	s := newTestStore(t)
	res := newTestSession(t, s)

	l := NewLinearizer(s)
	got := make(chan *event.Event, 1)

	l.AppendAsync(AppendOptions{
		SessionID: res.Session.ID,
		Type:      event.TypeMessageUser,
		Payload:   json.RawMessage(`{"content":"async"}`),
	}, func(evt *event.Event, err error) {
		if err != nil {
			t.Errorf("callback err: %v", err)
		}
		got <- evt
	})

	select {
	case evt := <-got:
		if evt == nil || evt.Sequence != 2 {
			t.Errorf("callback event = %+v", evt)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("callback never fired")
	}
}

func TestLinearizerFailureIsolation(t *testing.T) {
	s := newTestStore(t)
	res := newTestSession(t, s)
	sessionID := res.Session.ID

	l := NewLinearizer(s)
	ctx := context.Background()

	if _, err := l.Append(ctx, AppendOptions{
		SessionID: sessionID,
		Type:      event.TypeMessageUser,
		Payload:   json.RawMessage(`{"content":"good"}`),
	}); err != nil {
		t.Fatal(err)
	}

	// A rejected operation fails alone
	if _, err := l.Append(ctx, AppendOptions{
		SessionID: sessionID,
		Type:      "bad.type",
	}); !errors.Is(err, event.ErrUnknownType) {
		t.Errorf("bad append err = %v", err)
	}

	// The next operation still lands on the last committed head
	evt, err := l.Append(ctx, AppendOptions{
		SessionID: sessionID,
		Type:      event.TypeMessageUser,
		Payload:   json.RawMessage(`{"content":"after failure"}`),
	})
	if err != nil {
		t.Fatal(err)
	}
	if evt.Sequence != 3 {
		t.Errorf("sequence = %d, want 3", evt.Sequence)
	}
}

func TestLinearizerIndependentSessions(t *testing.T) {
	s := newTestStore(t)
	a := newTestSession(t, s)
	b := newTestSession(t, s)

	l := NewLinearizer(s)
	ctx := context.Background()

	var wg sync.WaitGroup
	for _, sessionID := range []string{a.Session.ID, b.Session.ID} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			for i := 0; i < 10; i++ {
				if _, err := l.Append(ctx, AppendOptions{
					SessionID: id,
					Type:      event.TypeMessageUser,
					Payload:   json.RawMessage(`{"content":"x"}`),
				}); err != nil {
					t.Errorf("append to %s: %v", id, err)
					return
				}
			}
		}(sessionID)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("timeout")
	}

	for _, sessionID := range []string{a.Session.ID, b.Session.ID} {
		events, err := s.GetEvents(sessionID)
		if err != nil {
			t.Fatal(err)
		}
		if len(events) != 11 {
			t.Errorf("session %s chain = %d events", sessionID, len(events))
		}
	}
}
