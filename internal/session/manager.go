// Package session tracks generation sessions: their lifecycle state,
// progress history, produced widgets, and conversation log. The manager
// is safe for concurrent use; each session is guarded by the manager's
// lock.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"widgetforge/internal/logging"
	"widgetforge/internal/widget"
)

// Status is a session's lifecycle state. Active is the only non-terminal
// state; terminal sessions never transition again.
type Status string

const (
	StatusActive    Status = "active"
	StatusComplete  Status = "complete"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Step identifies a stage of the generation pipeline in progress events.
type Step string

const (
	StepPreparing         Step = "preparing"
	StepBuildingPrompt    Step = "building_prompt"
	StepSelectingProvider Step = "selecting_provider"
	StepGenerating        Step = "generating"
	StepParsing           Step = "parsing"
	StepValidating        Step = "validating"
	StepScoring           Step = "scoring"
	StepSaving            Step = "saving"
	StepComplete          Step = "complete"
	StepFailed            Step = "failed"
)

// FailureProgress is the sentinel progress value on failure events.
// It is the one value allowed outside [0,100].
const FailureProgress = -1

// DefaultRetention is how long inactive terminal sessions are kept.
const DefaultRetention = time.Hour

// ErrSessionNotFound is returned for unknown or expired session ids.
var ErrSessionNotFound = errors.New("session not found")

// ProgressUpdate is one entry in a session's progress history.
type ProgressUpdate struct {
	Step      Step      `json:"step"`
	Message   string    `json:"message"`
	Progress  int       `json:"progress"` // 0-100, or FailureProgress
	Timestamp time.Time `json:"timestamp"`
}

// Message is one turn of a session's conversation log.
type Message struct {
	Role      string    `json:"role"` // "user" or "assistant"
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Session is one generation session.
type Session struct {
	ID           string                   `json:"id"`
	Status       Status                   `json:"status"`
	Request      widget.GenerationRequest `json:"request"`
	Progress     []ProgressUpdate         `json:"progress"`
	Widgets      []*widget.ParsedWidget   `json:"widgets"`
	Messages     []Message                `json:"messages"`
	CreatedAt    time.Time                `json:"createdAt"`
	LastActivity time.Time                `json:"lastActivity"`

	cancel context.CancelFunc
}

// Terminal reports whether the session has reached a terminal state.
func (s *Session) Terminal() bool {
	return s.Status != StatusActive
}

// LatestWidget returns the most recently added widget, or nil.
func (s *Session) LatestWidget() *widget.ParsedWidget {
	if len(s.Widgets) == 0 {
		return nil
	}
	return s.Widgets[len(s.Widgets)-1]
}

// ProgressListener receives progress events for a subscribed session.
type ProgressListener func(update ProgressUpdate)

// Manager owns the session map and its listener registrations.
type Manager struct {
	mu        sync.RWMutex
	sessions  map[string]*Session
	listeners map[string]map[int]ProgressListener
	nextSub   int
	retention time.Duration
}

// NewManager creates a session manager with the given retention window
// for inactive sessions. Zero means DefaultRetention.
func NewManager(retention time.Duration) *Manager {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Manager{
		sessions:  make(map[string]*Session),
		listeners: make(map[string]map[int]ProgressListener),
		retention: retention,
	}
}

// CreateSession allocates a session with a unique id and an initial
// "preparing" progress entry.
func (m *Manager) CreateSession(req widget.GenerationRequest) *Session {
	now := time.Now()
	s := &Session{
		ID:           uuid.NewString(),
		Status:       StatusActive,
		Request:      req,
		CreatedAt:    now,
		LastActivity: now,
		Progress: []ProgressUpdate{{
			Step:      StepPreparing,
			Message:   "Preparing generation session",
			Progress:  0,
			Timestamp: now,
		}},
	}

	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()

	logging.Session("Created session %s (mode=%s)", s.ID, req.Mode)
	return s
}

// GetSession returns the session for id.
func (m *Manager) GetSession(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return s, nil
}

// UpdateProgress appends a progress entry and notifies subscribers.
// Progress is clamped into [0,100] unless the step is StepFailed, which
// always records FailureProgress. StepComplete and StepFailed also move
// the session to the matching terminal status.
func (m *Manager) UpdateProgress(id string, step Step, message string, progress int) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}

	update := appendProgress(s, step, message, progress)
	subs := m.listenersFor(id)
	m.mu.Unlock()

	notify(subs, update)
	return nil
}

// appendProgress clamps the value, appends the entry, and applies the
// terminal transition for StepComplete/StepFailed. Caller must hold the
// manager lock.
func appendProgress(s *Session, step Step, message string, progress int) ProgressUpdate {
	if step == StepFailed {
		progress = FailureProgress
	} else {
		if progress < 0 {
			progress = 0
		}
		if progress > 100 {
			progress = 100
		}
	}

	update := ProgressUpdate{
		Step:      step,
		Message:   message,
		Progress:  progress,
		Timestamp: time.Now(),
	}
	s.Progress = append(s.Progress, update)
	s.LastActivity = update.Timestamp

	// Terminal status is set once; a session never leaves a terminal
	// state even if late progress events arrive.
	if s.Status == StatusActive {
		switch step {
		case StepComplete:
			s.Status = StatusComplete
		case StepFailed:
			s.Status = StatusFailed
		}
	}
	return update
}

// AddWidget appends a widget to the session's widget list.
func (m *Manager) AddWidget(id string, w *widget.ParsedWidget) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	s.Widgets = append(s.Widgets, w)
	s.LastActivity = time.Now()
	return nil
}

// AddMessage appends a turn to the session's conversation log.
func (m *Manager) AddMessage(id, role, content string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	s.Messages = append(s.Messages, Message{Role: role, Content: content, Timestamp: time.Now()})
	s.LastActivity = time.Now()
	return nil
}

// BindCancel attaches a cancel function to the session so CancelSession
// can abort the in-flight provider call.
func (m *Manager) BindCancel(id string, cancel context.CancelFunc) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	s.cancel = cancel
	return nil
}

// CancelSession cancels an active session, aborting its in-flight work
// and emitting a final failure-style progress event. Cancelling a
// terminal session is a no-op.
func (m *Manager) CancelSession(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	if s.Status != StatusActive {
		m.mu.Unlock()
		return nil
	}

	// Cancelled is set before the event is appended so appendProgress
	// cannot re-mark the session failed.
	s.Status = StatusCancelled
	cancel := s.cancel
	update := appendProgress(s, StepFailed, "Generation cancelled", FailureProgress)
	subs := m.listenersFor(id)
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	notify(subs, update)
	logging.Session("Cancelled session %s", id)
	return nil
}

// CompleteSession marks the session complete with a final progress
// event. No-op on an already-terminal session.
func (m *Manager) CompleteSession(id string) error {
	return m.finish(id, StepComplete, "Generation complete", 100)
}

// FailSession marks the session failed with a final failure event.
// No-op on an already-terminal session.
func (m *Manager) FailSession(id, reason string) error {
	return m.finish(id, StepFailed, reason, FailureProgress)
}

// finish appends the terminal event in the same critical section as the
// status check, so a concurrent CancelSession cannot slip in between and
// leave a stray event on a cancelled session.
func (m *Manager) finish(id string, step Step, message string, progress int) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	if s.Status != StatusActive {
		m.mu.Unlock()
		return nil
	}
	update := appendProgress(s, step, message, progress)
	subs := m.listenersFor(id)
	m.mu.Unlock()

	notify(subs, update)
	return nil
}

// OnProgress subscribes to a session's progress events. The returned
// function removes the subscription.
func (m *Manager) OnProgress(id string, listener ProgressListener) (unsubscribe func(), err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[id]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}

	if m.listeners[id] == nil {
		m.listeners[id] = make(map[int]ProgressListener)
	}
	sub := m.nextSub
	m.nextSub++
	m.listeners[id][sub] = listener

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if subs, ok := m.listeners[id]; ok {
			delete(subs, sub)
			if len(subs) == 0 {
				delete(m.listeners, id)
			}
		}
	}, nil
}

// Cleanup evicts non-active sessions whose last activity is older than
// the retention window, along with their listener sets. Returns the
// number of sessions evicted.
func (m *Manager) Cleanup() int {
	cutoff := time.Now().Add(-m.retention)

	m.mu.Lock()
	defer m.mu.Unlock()
	evicted := 0
	for id, s := range m.sessions {
		if s.Status == StatusActive || s.LastActivity.After(cutoff) {
			continue
		}
		delete(m.sessions, id)
		delete(m.listeners, id)
		evicted++
	}
	if evicted > 0 {
		logging.Session("Cleanup evicted %d sessions", evicted)
	}
	return evicted
}

// Count returns the number of tracked sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// listenersFor snapshots a session's listeners in subscription order.
// Caller must hold the lock.
func (m *Manager) listenersFor(id string) []ProgressListener {
	subs := m.listeners[id]
	if len(subs) == 0 {
		return nil
	}
	keys := make([]int, 0, len(subs))
	for k := range subs {
		keys = append(keys, k)
	}
	// Subscription ids are monotonically increasing, so insertion sort
	// on the small key set keeps delivery order stable.
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && keys[j] < keys[j-1]; j-- {
			keys[j], keys[j-1] = keys[j-1], keys[j]
		}
	}
	out := make([]ProgressListener, 0, len(keys))
	for _, k := range keys {
		out = append(out, subs[k])
	}
	return out
}

// notify delivers an update to each listener, isolating panics so one
// bad subscriber cannot break delivery to the rest.
func notify(listeners []ProgressListener, update ProgressUpdate) {
	for _, listener := range listeners {
		func() {
			defer func() {
				if r := recover(); r != nil {
					logging.Session("Progress listener panicked: %v", r)
				}
			}()
			listener(update)
		}()
	}
}
