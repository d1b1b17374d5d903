package chat

import (
	"context"
	"sync"

	"github.com/charmbracelet/log"
)

// DefaultPageSize is the number of messages requested per history page.
const DefaultPageSize = 50

// HistoryFetcher fetches one page of history for a conversation. Page 1 is
// the most recent page; higher pages go back in time.
type HistoryFetcher interface {
	FetchHistory(ctx context.Context, selfID string, conv Conversation, page, limit int) (*HistoryPage, error)
}

// PagerConfig configures a [Pager].
type PagerConfig struct {
	PageSize int
	Logger   *log.Logger
	Notifier Notifier
}

func (c *PagerConfig) defaults() {
	if c.PageSize <= 0 {
		c.PageSize = DefaultPageSize
	}
	c.Logger = loggerOr(c.Logger)
	c.Notifier = notifierOr(c.Notifier, c.Logger)
}

// PageState is the paging state of the active conversation.
type PageState struct {
	Conversation  Conversation
	CurrentPage   int
	HasMore       bool
	IsLoading     bool
	IsLoadingMore bool
	LastError     error
}

// Pager drives history loading for the active conversation: the initial
// page on selection, then older pages on demand. At most one backward fetch
// is in flight at a time.
type Pager struct {
	fetcher  HistoryFetcher
	store    *Store
	selfID   string
	pageSize int
	logger   *log.Logger
	notifier Notifier

	mu     sync.Mutex
	state  PageState
	loaded bool // page 1 absorbed for the current conversation
	gen    uint64
}

// NewPager creates a pager that feeds fetched pages into store.
func NewPager(fetcher HistoryFetcher, store *Store, selfID string, config *PagerConfig) *Pager {
	var cfg PagerConfig
	if config != nil {
		cfg = *config
	}
	cfg.defaults()
	return &Pager{
		fetcher:  fetcher,
		store:    store,
		selfID:   selfID,
		pageSize: cfg.PageSize,
		logger:   cfg.Logger,
		notifier: cfg.Notifier,
	}
}

// State returns a copy of the current paging state.
func (p *Pager) State() PageState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// LoadInitial makes conv the paged conversation, clears the message list and
// loads page 1. Fetch failures are logged and notified and leave the pager
// ready to retry page 1 on the next [Pager.LoadMore]; the only error
// returned is [ErrNoConversation].
func (p *Pager) LoadInitial(ctx context.Context, conv Conversation) error {
	if conv.IsZero() {
		return ErrNoConversation
	}

	p.mu.Lock()
	p.gen++
	gen := p.gen
	p.state = PageState{Conversation: conv, CurrentPage: 1, HasMore: true, IsLoading: true}
	p.loaded = false
	p.mu.Unlock()

	p.store.ResetFor(conv)
	p.fetch(ctx, gen, conv, 1)
	return nil
}

// LoadMore fetches the page before the oldest loaded one. It is a no-op
// returning false when no conversation is active, the server reported no
// more history, or a load is already in flight; rapid calls from scroll
// events therefore collapse into one request.
//
// LoadMore blocks until the page is absorbed and reports whether a page for
// the still-active conversation was added. Callers preserving a scroll
// position should capture the content height before calling and re-anchor
// with [AnchorScroll] after it returns.
func (p *Pager) LoadMore(ctx context.Context) bool {
	p.mu.Lock()
	st := p.state
	if st.Conversation.IsZero() || !st.HasMore || st.IsLoadingMore || st.IsLoading {
		p.mu.Unlock()
		return false
	}
	next := st.CurrentPage + 1
	if !p.loaded {
		next = 1
	}
	p.state.IsLoadingMore = true
	gen := p.gen
	p.mu.Unlock()

	return p.fetch(ctx, gen, st.Conversation, next)
}

func (p *Pager) fetch(ctx context.Context, gen uint64, conv Conversation, page int) bool {
	p.logger.Debug("fetching history", "conversation", conv.String(), "page", page)

	result, err := p.fetcher.FetchHistory(ctx, p.selfID, conv, page, p.pageSize)
	if err != nil {
		p.logger.Error("history fetch failed", "conversation", conv.String(), "page", page, "err", err)
		notifyError(p.notifier, "Could not load messages. Scroll up to try again.")
		p.settle(gen, func(st *PageState) { st.LastError = err })
		return false
	}

	// A page for a conversation that is no longer active is still absorbed;
	// rendering filters it out.
	p.store.AbsorbPage(conv, result.Messages, page)

	return p.settle(gen, func(st *PageState) {
		st.CurrentPage = page
		st.HasMore = result.hasMore(p.pageSize)
		st.LastError = nil
		p.loaded = true
	})
}

// settle clears the in-flight flags and applies fn if gen is still the
// current conversation's generation.
func (p *Pager) settle(gen uint64, fn func(*PageState)) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if gen != p.gen {
		return false
	}
	p.state.IsLoading = false
	p.state.IsLoadingMore = false
	fn(&p.state)
	return p.state.LastError == nil
}

// AnchorScroll returns the scroll offset that keeps previously visible
// content in place after older content of height newHeight-prevHeight was
// inserted above it.
func AnchorScroll(prevHeight, newHeight, prevOffset int) int {
	offset := prevOffset + (newHeight - prevHeight)
	if offset < 0 {
		return 0
	}
	return offset
}
