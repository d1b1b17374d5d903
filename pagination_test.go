package chat

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// ============================================================================
// Test Helpers
// ============================================================================

type fetchCall struct {
	conv Conversation
	page int
}

// fakeFetcher serves canned pages keyed by conversation and page number and
// records every call.
type fakeFetcher struct {
	mu      sync.Mutex
	pages   map[Conversation]map[int]*HistoryPage
	calls   []fetchCall
	err     error
	blocked map[Conversation]chan struct{}
	started chan fetchCall
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		pages:   make(map[Conversation]map[int]*HistoryPage),
		blocked: make(map[Conversation]chan struct{}),
		started: make(chan fetchCall, 16),
	}
}

func (f *fakeFetcher) set(conv Conversation, page int, hasMore bool, msgs ...Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pages[conv] == nil {
		f.pages[conv] = make(map[int]*HistoryPage)
	}
	f.pages[conv][page] = &HistoryPage{Messages: msgs, Pagination: &Pagination{Page: page, HasMore: hasMore}}
}

// block makes fetches for conv wait until the returned func is called.
func (f *fakeFetcher) block(conv Conversation) (release func()) {
	ch := make(chan struct{})
	f.mu.Lock()
	f.blocked[conv] = ch
	f.mu.Unlock()
	return func() { close(ch) }
}

func (f *fakeFetcher) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *fakeFetcher) Calls() []fetchCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]fetchCall(nil), f.calls...)
}

func (f *fakeFetcher) FetchHistory(ctx context.Context, selfID string, conv Conversation, page, limit int) (*HistoryPage, error) {
	f.mu.Lock()
	call := fetchCall{conv: conv, page: page}
	f.calls = append(f.calls, call)
	gate := f.blocked[conv]
	err := f.err
	result := f.pages[conv][page]
	f.mu.Unlock()

	f.started <- call
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	if result == nil {
		return &HistoryPage{Pagination: &Pagination{Page: page}}, nil
	}
	return result, nil
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func waitStarted(t *testing.T, f *fakeFetcher) fetchCall {
	t.Helper()
	select {
	case c := <-f.started:
		return c
	case <-time.After(3 * time.Second):
		t.Fatal("fetch never started")
	}
	return fetchCall{}
}

func drainStarted(f *fakeFetcher) {
	for {
		select {
		case <-f.started:
		default:
			return
		}
	}
}

func newTestPager(f *fakeFetcher, pageSize int) (*Pager, *Store, *NotificationLog) {
	store := newTestStore()
	notes := &NotificationLog{}
	return NewPager(f, store, "A", &PagerConfig{PageSize: pageSize, Notifier: notes}), store, notes
}

// ============================================================================
// LoadInitial / LoadMore
// ============================================================================

func TestPagerLoadInitial(t *testing.T) {
	ctx := context.Background()
	convB := Conversation{PeerID: "B"}

	t.Run("loads page one", func(t *testing.T) {
		f := newFakeFetcher()
		f.set(convB, 1, true, confirmed("m5", "A", "B", 5), confirmed("m6", "B", "A", 6))
		p, store, _ := newTestPager(f, 2)

		if err := p.LoadInitial(ctx, convB); err != nil {
			t.Fatal(err)
		}
		st := p.State()
		if st.CurrentPage != 1 || !st.HasMore || st.IsLoading || st.IsLoadingMore || st.LastError != nil {
			t.Fatalf("state = %+v", st)
		}
		assertIDs(t, store.Snapshot(), "m5", "m6")
	})

	t.Run("requires a conversation", func(t *testing.T) {
		f := newFakeFetcher()
		p, _, _ := newTestPager(f, 2)
		if err := p.LoadInitial(ctx, Conversation{}); !errors.Is(err, ErrNoConversation) {
			t.Fatalf("err = %v", err)
		}
		if len(f.Calls()) != 0 {
			t.Fatal("unexpected fetch")
		}
	})

	t.Run("clears the previous conversation", func(t *testing.T) {
		f := newFakeFetcher()
		f.set(convB, 1, false, confirmed("b1", "B", "A", 1))
		p, store, _ := newTestPager(f, 2)
		_ = p.LoadInitial(ctx, convB)
		_ = p.LoadInitial(ctx, Conversation{PeerID: "C"})
		if store.Len() != 0 {
			t.Fatalf("store = %v", ids(store.Snapshot()))
		}
	})
}

func TestPagerLoadMore(t *testing.T) {
	ctx := context.Background()
	convB := Conversation{PeerID: "B"}

	t.Run("prepends older pages until exhausted", func(t *testing.T) {
		f := newFakeFetcher()
		f.set(convB, 1, true, confirmed("m5", "A", "B", 5), confirmed("m6", "B", "A", 6), confirmed("m7", "A", "B", 7))
		f.set(convB, 2, false, confirmed("m2", "B", "A", 2), confirmed("m3", "A", "B", 3), confirmed("m4", "B", "A", 4))
		p, store, _ := newTestPager(f, 3)
		_ = p.LoadInitial(ctx, convB)

		if !p.LoadMore(ctx) {
			t.Fatal("expected a page")
		}
		assertIDs(t, store.Snapshot(), "m2", "m3", "m4", "m5", "m6", "m7")
		if st := p.State(); st.CurrentPage != 2 || st.HasMore {
			t.Fatalf("state = %+v", st)
		}

		// No more history: no network call.
		if p.LoadMore(ctx) {
			t.Fatal("expected no-op")
		}
		if n := len(f.Calls()); n != 2 {
			t.Fatalf("fetches = %d, want 2", n)
		}
	})

	t.Run("infers hasMore from page size without metadata", func(t *testing.T) {
		f := newFakeFetcher()
		f.pages[convB] = map[int]*HistoryPage{
			1: {Messages: []Message{confirmed("m3", "A", "B", 3), confirmed("m4", "B", "A", 4)}},
			2: {Messages: []Message{confirmed("m2", "A", "B", 2)}},
		}
		p, _, _ := newTestPager(f, 2)
		_ = p.LoadInitial(ctx, convB)
		if !p.State().HasMore {
			t.Fatal("full page should leave hasMore set")
		}
		p.LoadMore(ctx)
		if p.State().HasMore {
			t.Fatal("short page should clear hasMore")
		}
	})

	t.Run("no conversation is a no-op", func(t *testing.T) {
		f := newFakeFetcher()
		p, _, _ := newTestPager(f, 2)
		if p.LoadMore(ctx) {
			t.Fatal("expected no-op")
		}
		if len(f.Calls()) != 0 {
			t.Fatal("unexpected fetch")
		}
	})

	t.Run("rapid calls collapse into one fetch", func(t *testing.T) {
		f := newFakeFetcher()
		f.set(convB, 1, true, confirmed("m9", "A", "B", 9))
		f.set(convB, 2, true, confirmed("m8", "B", "A", 8))
		p, _, _ := newTestPager(f, 1)
		_ = p.LoadInitial(ctx, convB)
		drainStarted(f)

		release := f.block(convB)
		done := make(chan bool)
		go func() { done <- p.LoadMore(ctx) }()
		waitStarted(t, f)

		if !p.State().IsLoadingMore {
			t.Fatal("expected isLoadingMore")
		}
		for i := 0; i < 5; i++ {
			if p.LoadMore(ctx) {
				t.Fatal("concurrent LoadMore should be a no-op")
			}
		}
		release()
		if !<-done {
			t.Fatal("first LoadMore should succeed")
		}
		if n := len(f.Calls()); n != 2 {
			t.Fatalf("fetches = %d, want 2", n)
		}
	})

	t.Run("failure keeps the cursor for a retry", func(t *testing.T) {
		f := newFakeFetcher()
		f.set(convB, 1, true, confirmed("m9", "A", "B", 9))
		f.set(convB, 2, false, confirmed("m8", "B", "A", 8))
		p, store, notes := newTestPager(f, 1)
		_ = p.LoadInitial(ctx, convB)

		f.setErr(errors.New("boom"))
		if p.LoadMore(ctx) {
			t.Fatal("expected failure")
		}
		st := p.State()
		if st.CurrentPage != 1 || !st.HasMore || st.IsLoadingMore || st.LastError == nil {
			t.Fatalf("state = %+v", st)
		}
		if n, ok := notes.Last(); !ok || n.Level != NotifyError {
			t.Fatalf("notification = %+v, %v", n, ok)
		}
		assertIDs(t, store.Snapshot(), "m9")

		f.setErr(nil)
		if !p.LoadMore(ctx) {
			t.Fatal("retry should succeed")
		}
		if st := p.State(); st.CurrentPage != 2 || st.LastError != nil {
			t.Fatalf("state = %+v", st)
		}
		calls := f.Calls()
		if calls[1].page != 2 || calls[2].page != 2 {
			t.Fatalf("calls = %+v", calls)
		}
	})

	t.Run("failed initial load retries page one", func(t *testing.T) {
		f := newFakeFetcher()
		f.set(convB, 1, true, confirmed("m9", "A", "B", 9))
		p, store, _ := newTestPager(f, 1)

		f.setErr(errors.New("offline"))
		_ = p.LoadInitial(ctx, convB)
		if p.State().LastError == nil {
			t.Fatal("expected LastError")
		}

		f.setErr(nil)
		if !p.LoadMore(ctx) {
			t.Fatal("expected retry")
		}
		calls := f.Calls()
		if len(calls) != 2 || calls[1].page != 1 {
			t.Fatalf("calls = %+v", calls)
		}
		assertIDs(t, store.Snapshot(), "m9")
	})
}

// Switching from B to C while B's page 2 is in flight: the late page is
// absorbed but never rendered under C, and C's cursor is untouched.
func TestPagerSwitchMidFetch(t *testing.T) {
	ctx := context.Background()
	convB := Conversation{PeerID: "B"}
	convC := Conversation{PeerID: "C"}

	f := newFakeFetcher()
	f.set(convB, 1, true, confirmed("b5", "B", "A", 5))
	f.set(convB, 2, true, confirmed("b1", "B", "A", 1), confirmed("b2", "A", "B", 2))
	f.set(convC, 1, true, confirmed("c7", "C", "A", 7))
	p, store, _ := newTestPager(f, 1)
	_ = p.LoadInitial(ctx, convB)
	drainStarted(f)

	release := f.block(convB)
	done := make(chan bool)
	go func() { done <- p.LoadMore(ctx) }()
	waitStarted(t, f)

	if err := p.LoadInitial(ctx, convC); err != nil {
		t.Fatal(err)
	}
	release()
	if <-done {
		t.Fatal("stale page should not report success")
	}

	if _, ok := store.FindByID("b1"); !ok {
		t.Fatal("stale page should still be absorbed")
	}
	assertIDs(t, FilterForConversation(store.Snapshot(), "A", convC), "c7")

	st := p.State()
	if st.Conversation != convC || st.CurrentPage != 1 || st.IsLoadingMore {
		t.Fatalf("state = %+v", st)
	}
}

// ============================================================================
// AnchorScroll
// ============================================================================

func TestAnchorScroll(t *testing.T) {
	tests := []struct {
		name                         string
		prevHeight, newHeight, prevY int
		want                         int
	}{
		{"at top", 100, 160, 0, 60},
		{"mid scroll", 100, 160, 5, 65},
		{"nothing added", 100, 100, 3, 3},
		{"content shrank", 100, 40, 10, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := AnchorScroll(tt.prevHeight, tt.newHeight, tt.prevY); got != tt.want {
				t.Fatalf("AnchorScroll = %d, want %d", got, tt.want)
			}
		})
	}
}
