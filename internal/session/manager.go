// Package session runs dialogue turns: one FIFO lane per conversation, with
// different conversations processed in parallel.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/christopherklint97/convene/internal/dialogue"
)

var ErrClosed = errors.New("session: manager closed")

// Stepper advances a conversation by one message.
type Stepper interface {
	Step(ctx context.Context, state dialogue.ConversationState, text string) (dialogue.Reply, dialogue.ConversationState)
}

type Result struct {
	Reply dialogue.Reply
	State dialogue.ConversationState
}

type job struct {
	ctx    context.Context
	userID string
	text   string
	done   chan jobResult
}

type jobResult struct {
	res Result
	err error
}

type lane struct {
	id     string
	queue  []job
	wake   chan struct{}
	cancel context.CancelFunc // in-flight turn, nil between turns
}

type Manager struct {
	engine Stepper
	states StateStore
	idle   time.Duration
	logger *slog.Logger

	mu     sync.Mutex
	lanes  map[string]*lane
	closed bool
	done   chan struct{}
	wg     sync.WaitGroup
}

// NewManager returns a Manager whose lane goroutines exit after idle with
// nothing queued.
func NewManager(engine Stepper, states StateStore, idle time.Duration, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if idle <= 0 {
		idle = 2 * time.Minute
	}
	return &Manager{
		engine: engine,
		states: states,
		idle:   idle,
		logger: logger,
		lanes:  make(map[string]*lane),
		done:   make(chan struct{}),
	}
}

// ProcessMessage queues text behind any earlier messages for the same
// conversation and waits for its reply.
func (m *Manager) ProcessMessage(ctx context.Context, conversationID, userID, text string) (Result, error) {
	j := job{ctx: ctx, userID: userID, text: text, done: make(chan jobResult, 1)}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return Result{}, ErrClosed
	}
	l, ok := m.lanes[conversationID]
	if !ok {
		l = &lane{id: conversationID, wake: make(chan struct{}, 1)}
		m.lanes[conversationID] = l
		m.wg.Add(1)
		go m.run(l)
	}
	l.queue = append(l.queue, j)
	m.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}

	select {
	case r := <-j.done:
		return r.res, r.err
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// Cancel aborts the turn currently running for conversationID. A commit
// whose calendar write already succeeded still finishes.
func (m *Manager) Cancel(conversationID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.lanes[conversationID]
	if !ok || l.cancel == nil {
		return false
	}
	l.cancel()
	return true
}

// Reset forgets a conversation's state.
func (m *Manager) Reset(ctx context.Context, conversationID string) error {
	return m.states.Delete(ctx, conversationID)
}

// Close stops accepting messages, lets queued turns finish and waits for
// every lane to exit.
func (m *Manager) Close() {
	m.mu.Lock()
	if !m.closed {
		m.closed = true
		close(m.done)
	}
	m.mu.Unlock()
	m.wg.Wait()
}

func (m *Manager) activeLanes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.lanes)
}

func (m *Manager) run(l *lane) {
	defer m.wg.Done()
	logger := m.logger.With("conversation", l.id)
	logger.Debug("lane started")

	for {
		m.mu.Lock()
		if len(l.queue) == 0 {
			m.mu.Unlock()
			if m.waitForWork(l) {
				continue
			}
			logger.Debug("lane stopped")
			return
		}
		j := l.queue[0]
		l.queue = l.queue[1:]
		ctx, cancel := context.WithCancel(j.ctx)
		l.cancel = cancel
		m.mu.Unlock()

		res, err := m.turn(ctx, l.id, j)
		cancel()

		m.mu.Lock()
		l.cancel = nil
		m.mu.Unlock()
		j.done <- jobResult{res: res, err: err}
	}
}

// waitForWork blocks until the lane is woken. It returns false once the
// lane has been removed, which happens when it stays idle or on Close.
func (m *Manager) waitForWork(l *lane) bool {
	timer := time.NewTimer(m.idle)
	defer timer.Stop()

	select {
	case <-l.wake:
		return true
	case <-timer.C:
	case <-m.done:
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if len(l.queue) > 0 {
		return true
	}
	delete(m.lanes, l.id)
	return false
}

func (m *Manager) turn(ctx context.Context, conversationID string, j job) (Result, error) {
	st, ok, err := m.states.Load(ctx, conversationID)
	if err != nil {
		return Result{}, err
	}
	if !ok {
		st = dialogue.NewConversation(conversationID, j.userID)
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	start := time.Now()
	reply, next := m.engine.Step(ctx, st, j.text)
	m.logger.Debug("turn processed",
		"conversation", conversationID,
		"phase", next.Phase,
		"elapsed", time.Since(start).Round(time.Millisecond),
	)

	// The turn may have committed; its state must be kept even if cancelled.
	if err := m.states.Save(context.WithoutCancel(ctx), next); err != nil {
		return Result{Reply: reply, State: next}, fmt.Errorf("saving state: %w", err)
	}
	return Result{Reply: reply, State: next}, nil
}
