// Package feed connects to market-data sources and turns their messages
// into market.Events.
package feed

import (
	"context"
	"sync"
	"time"

	"ticksonic/internal/market"
)

// Feed is a source of trade and quote events. Run blocks until ctx is done,
// the source is exhausted or reconnection gives up; it closes Events before
// returning. onStatus reports upstream connectivity changes.
type Feed interface {
	Run(ctx context.Context, onStatus func(connected bool)) error
	Events() <-chan market.Event
	Errors() <-chan error
}

// RetryPolicy bounds reconnection: after MaxAttempts consecutive failed
// sessions the feed gives up. A session that authenticated resets the count.
type RetryPolicy struct {
	MaxAttempts int
	Delay       time.Duration
}

var DefaultRetry = RetryPolicy{MaxAttempts: 3, Delay: 10 * time.Second}

func emit(ctx context.Context, ch chan<- market.Event, ev market.Event) bool {
	select {
	case ch <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func emitErr(ch chan error, err error) {
	select {
	case ch <- err:
	default:
		// drop if buffer full
	}
}

// ---------- Test/mock feed (handy for integration tests & demos) ----------
type MockFeed struct {
	events chan market.Event
	errors chan error

	mu        sync.Mutex
	connected bool
}

func NewMockFeed() *MockFeed {
	return &MockFeed{
		events:    make(chan market.Event, 16),
		errors:    make(chan error, 16),
		connected: true,
	}
}

func (m *MockFeed) Run(ctx context.Context, onStatus func(connected bool)) error {
	defer close(m.events)
	m.mu.Lock()
	connected := m.connected
	m.mu.Unlock()
	onStatus(connected)
	<-ctx.Done()
	onStatus(false)
	return nil
}

func (m *MockFeed) Events() <-chan market.Event { return m.events }
func (m *MockFeed) Errors() <-chan error        { return m.errors }

// Helpers for tests
func (m *MockFeed) SendEvent(ev market.Event) { m.events <- ev }
func (m *MockFeed) SendError(e error)         { m.errors <- e }

// SetConnected sets the status Run reports on start.
func (m *MockFeed) SetConnected(c bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = c
}
