package orchestrator

import (
	"context"
	"fmt"
	"sync"

	"widgetforge/internal/provider"
	"widgetforge/internal/store"
	"widgetforge/internal/widget"
)

// stubProvider returns a canned response or error.
type stubProvider struct {
	name    string
	content string
	err     error
	calls   int
}

func (p *stubProvider) Generate(ctx context.Context, prompt string, opts provider.Options) (*provider.Response, error) {
	p.calls++
	if p.err != nil {
		return nil, p.err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &provider.Response{Content: p.content, Model: "stub-model", Name: p.name}, nil
}
func (p *stubProvider) Name() string  { return p.name }
func (p *stubProvider) Model() string { return "stub-model" }

// memDraftStore is an in-memory DraftStore.
type memDraftStore struct {
	mu     sync.Mutex
	drafts map[string]*widget.DraftWidget
	nextID int
	err    error
}

func newMemDraftStore() *memDraftStore {
	return &memDraftStore{drafts: make(map[string]*widget.DraftWidget)}
}

func (s *memDraftStore) CreateDraft(manifest widget.Manifest, markup string, metadata map[string]string) (*widget.DraftWidget, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	s.nextID++
	draft := &widget.DraftWidget{
		ID:       fmt.Sprintf("draft-%d", s.nextID),
		Manifest: manifest,
		Markup:   markup,
		Metadata: metadata,
	}
	s.drafts[draft.ID] = draft
	return draft, nil
}

func (s *memDraftStore) GetDraft(id string) (*widget.DraftWidget, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	draft, ok := s.drafts[id]
	if !ok {
		return nil, store.ErrDraftNotFound
	}
	return draft, nil
}

// memMetrics records every outcome for assertions.
type memMetrics struct {
	mu      sync.Mutex
	records []store.GenerationRecord
}

func (m *memMetrics) AddRecord(rec store.GenerationRecord) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, rec)
	return fmt.Sprintf("rec-%d", len(m.records)), nil
}

func (m *memMetrics) last() (store.GenerationRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.records) == 0 {
		return store.GenerationRecord{}, false
	}
	return m.records[len(m.records)-1], true
}

func (m *memMetrics) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}
