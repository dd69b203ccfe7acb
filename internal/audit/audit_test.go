package audit

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

type fakeInserter struct {
	mu      sync.Mutex
	batches [][]Entry
	err     error
}

func (f *fakeInserter) BatchInsert(_ context.Context, entries []Entry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches = append(f.batches, entries)
	return f.err
}

func (f *fakeInserter) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, b := range f.batches {
		n += len(b)
	}
	return n
}

func TestRecordFlushesAtBatchSize(t *testing.T) {
	store := &fakeInserter{}
	c := NewCollector(store, 3, time.Hour)

	c.Record(Entry{Action: "quote.create"})
	c.Record(Entry{Action: "quote.submit"})
	if store.total() != 0 {
		t.Fatalf("expected no flush before batch size, got %d", store.total())
	}
	if c.Pending() != 2 {
		t.Errorf("expected 2 pending, got %d", c.Pending())
	}

	c.Record(Entry{Action: "quote.approve"})
	if store.total() != 3 {
		t.Fatalf("expected flush of 3 entries, got %d", store.total())
	}
	if c.Pending() != 0 {
		t.Errorf("expected empty buffer after flush, got %d", c.Pending())
	}
}

func TestRecordFillsIDAndTimestamp(t *testing.T) {
	store := &fakeInserter{}
	c := NewCollector(store, 1, time.Hour)
	fixed := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return fixed }

	c.Record(Entry{Action: "org.switch"})

	got := store.batches[0][0]
	if got.ID == "" {
		t.Error("expected generated id")
	}
	if !got.Timestamp.Equal(fixed) {
		t.Errorf("expected timestamp %v, got %v", fixed, got.Timestamp)
	}
}

func TestStopFlushesRemaining(t *testing.T) {
	store := &fakeInserter{}
	c := NewCollector(store, 100, time.Hour)

	done := make(chan struct{})
	go func() {
		c.Start(context.Background())
		close(done)
	}()

	c.Record(Entry{Action: "quote.send"})
	c.Stop()
	c.Stop() // second call must not panic

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("collector did not stop")
	}
	if store.total() != 1 {
		t.Errorf("expected final flush of 1 entry, got %d", store.total())
	}
}

func TestFlushObserverSeesErrors(t *testing.T) {
	store := &fakeInserter{err: errors.New("db down")}
	c := NewCollector(store, 10, time.Hour)

	var gotCount int
	var gotErr error
	c.OnFlush(func(count int, err error, _ time.Duration) {
		gotCount, gotErr = count, err
	})

	c.Record(Entry{Action: "quote.reject"})
	c.Flush()

	if gotCount != 1 || gotErr == nil {
		t.Errorf("observer got count=%d err=%v", gotCount, gotErr)
	}
}

func TestFlushEmptyIsNoop(t *testing.T) {
	store := &fakeInserter{}
	c := NewCollector(store, 10, time.Hour)
	c.Flush()
	if len(store.batches) != 0 {
		t.Error("expected no insert for empty buffer")
	}
}

func TestBuildWhereClause(t *testing.T) {
	where, args := buildWhereClause(Query{OrganizationID: "org-1"})
	if where != " WHERE organization_id = $1" || len(args) != 1 {
		t.Errorf("unexpected clause %q %v", where, args)
	}

	where, args = buildWhereClause(Query{
		OrganizationID: "org-1",
		ResourceType:   "quote",
		ResourceID:     "q-1",
		From:           time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	})
	for _, want := range []string{"resource_type = $2", "resource_id = $3", "timestamp >= $4"} {
		if !strings.Contains(where, want) {
			t.Errorf("expected %q in %q", want, where)
		}
	}
	if len(args) != 4 {
		t.Errorf("expected 4 args, got %d", len(args))
	}
}
