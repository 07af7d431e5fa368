// Package store persists widget drafts and generation outcome records
// in a local SQLite database.
package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"widgetforge/internal/logging"
	"widgetforge/internal/widget"
)

// ErrDraftNotFound is returned for unknown draft ids.
var ErrDraftNotFound = errors.New("draft not found")

// LocalStore is the SQLite-backed draft and metrics store.
type LocalStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	dbPath string
}

// NewLocalStore initializes the SQLite database at the given path.
func NewLocalStore(path string) (*LocalStore, error) {
	timer := logging.StartTimer(logging.CategoryStore, "NewLocalStore")
	defer timer.Stop()

	logging.Store("Initializing LocalStore at path: %s", path)

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logging.StoreDebug("Failed to set sqlite busy_timeout: %v", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		logging.StoreDebug("Failed to set sqlite journal_mode=WAL: %v", err)
	}
	if _, err := db.Exec("PRAGMA synchronous = NORMAL"); err != nil {
		logging.StoreDebug("Failed to set sqlite synchronous=NORMAL: %v", err)
	}

	store := &LocalStore{db: db, dbPath: path}
	if err := store.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	logging.StoreDebug("Database schema initialized")
	return store, nil
}

func (s *LocalStore) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS drafts (
		id TEXT PRIMARY KEY,
		manifest TEXT NOT NULL,
		markup TEXT NOT NULL,
		metadata TEXT NOT NULL DEFAULT '{}',
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);
	CREATE TABLE IF NOT EXISTS generation_records (
		id TEXT PRIMARY KEY,
		record_type TEXT NOT NULL,
		prompt_version_id TEXT,
		user_prompt TEXT,
		result TEXT NOT NULL,
		error_message TEXT,
		quality_score INTEGER,
		metadata TEXT NOT NULL DEFAULT '{}',
		created_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_records_type ON generation_records(record_type);
	CREATE INDEX IF NOT EXISTS idx_records_created ON generation_records(created_at);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *LocalStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

// CreateDraft persists a new draft and returns it with id and
// timestamps assigned.
func (s *LocalStore) CreateDraft(manifest widget.Manifest, markup string, metadata map[string]string) (*widget.DraftWidget, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if metadata == nil {
		metadata = map[string]string{}
	}
	manifestJSON, err := json.Marshal(manifest)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal manifest: %w", err)
	}
	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal metadata: %w", err)
	}

	now := time.Now().UTC()
	draft := &widget.DraftWidget{
		ID:        uuid.NewString(),
		Manifest:  manifest,
		Markup:    markup,
		Metadata:  metadata,
		CreatedAt: now,
		UpdatedAt: now,
	}

	_, err = s.db.Exec(
		`INSERT INTO drafts (id, manifest, markup, metadata, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		draft.ID, string(manifestJSON), markup, string(metadataJSON), now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert draft: %w", err)
	}

	logging.Store("Created draft %s (%s)", draft.ID, manifest.Name)
	return draft, nil
}

// GetDraft loads a draft by id.
func (s *LocalStore) GetDraft(id string) (*widget.DraftWidget, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(
		`SELECT id, manifest, markup, metadata, created_at, updated_at FROM drafts WHERE id = ?`, id)
	return scanDraft(row)
}

// DraftPatch describes a partial draft update. Nil fields are left
// unchanged.
type DraftPatch struct {
	Manifest *widget.Manifest
	Markup   *string
	Metadata map[string]string // merged over the existing metadata
}

// UpdateDraft applies a patch to a stored draft and returns the updated
// draft.
func (s *LocalStore) UpdateDraft(id string, patch DraftPatch) (*widget.DraftWidget, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.db.QueryRow(
		`SELECT id, manifest, markup, metadata, created_at, updated_at FROM drafts WHERE id = ?`, id)
	draft, err := scanDraft(row)
	if err != nil {
		return nil, err
	}

	if patch.Manifest != nil {
		draft.Manifest = *patch.Manifest
	}
	if patch.Markup != nil {
		draft.Markup = *patch.Markup
	}
	for k, v := range patch.Metadata {
		if draft.Metadata == nil {
			draft.Metadata = map[string]string{}
		}
		draft.Metadata[k] = v
	}
	draft.UpdatedAt = time.Now().UTC()

	manifestJSON, err := json.Marshal(draft.Manifest)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal manifest: %w", err)
	}
	metadataJSON, err := json.Marshal(draft.Metadata)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal metadata: %w", err)
	}

	_, err = s.db.Exec(
		`UPDATE drafts SET manifest = ?, markup = ?, metadata = ?, updated_at = ? WHERE id = ?`,
		string(manifestJSON), draft.Markup, string(metadataJSON), draft.UpdatedAt, id,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update draft: %w", err)
	}
	return draft, nil
}

// ListDrafts returns drafts newest-first, up to limit (0 = all).
func (s *LocalStore) ListDrafts(limit int) ([]*widget.DraftWidget, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT id, manifest, markup, metadata, created_at, updated_at FROM drafts ORDER BY created_at DESC`
	var rows *sql.Rows
	var err error
	if limit > 0 {
		rows, err = s.db.Query(query+` LIMIT ?`, limit)
	} else {
		rows, err = s.db.Query(query)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query drafts: %w", err)
	}
	defer rows.Close()

	var drafts []*widget.DraftWidget
	for rows.Next() {
		draft, err := scanDraft(rows)
		if err != nil {
			return nil, err
		}
		drafts = append(drafts, draft)
	}
	return drafts, rows.Err()
}

// scanner abstracts sql.Row and sql.Rows for scanDraft.
type scanner interface {
	Scan(dest ...any) error
}

func scanDraft(row scanner) (*widget.DraftWidget, error) {
	var draft widget.DraftWidget
	var manifestJSON, metadataJSON string
	err := row.Scan(&draft.ID, &manifestJSON, &draft.Markup, &metadataJSON, &draft.CreatedAt, &draft.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrDraftNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan draft: %w", err)
	}
	if err := json.Unmarshal([]byte(manifestJSON), &draft.Manifest); err != nil {
		return nil, fmt.Errorf("failed to unmarshal manifest: %w", err)
	}
	if err := json.Unmarshal([]byte(metadataJSON), &draft.Metadata); err != nil {
		return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
	}
	return &draft, nil
}
