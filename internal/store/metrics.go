package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"widgetforge/internal/logging"
)

// Outcome classifies a generation record.
const (
	OutcomeSuccess = "success"
	OutcomePartial = "partial"
	OutcomeFailure = "failure"
)

// GenerationRecord is one recorded generation outcome, used for
// trend analysis of prompt and provider performance.
type GenerationRecord struct {
	ID              string            `json:"id"`
	Type            string            `json:"type"` // generation/iteration/variation
	PromptVersionID string            `json:"promptVersionId,omitempty"`
	UserPrompt      string            `json:"userPrompt,omitempty"`
	Result          string            `json:"result"` // success/partial/failure
	ErrorMessage    string            `json:"errorMessage,omitempty"`
	QualityScore    int               `json:"qualityScore,omitempty"`
	Metadata        map[string]string `json:"metadata,omitempty"`
	CreatedAt       time.Time         `json:"createdAt"`
}

// AddRecord persists a generation outcome and returns its id.
func (s *LocalStore) AddRecord(rec GenerationRecord) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	if rec.Metadata == nil {
		rec.Metadata = map[string]string{}
	}
	metadataJSON, err := json.Marshal(rec.Metadata)
	if err != nil {
		return "", fmt.Errorf("failed to marshal metadata: %w", err)
	}

	_, err = s.db.Exec(
		`INSERT INTO generation_records
		 (id, record_type, prompt_version_id, user_prompt, result, error_message, quality_score, metadata, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Type, rec.PromptVersionID, rec.UserPrompt, rec.Result,
		rec.ErrorMessage, rec.QualityScore, string(metadataJSON), rec.CreatedAt,
	)
	if err != nil {
		return "", fmt.Errorf("failed to insert record: %w", err)
	}

	logging.StoreDebug("Recorded %s outcome %s for record %s", rec.Type, rec.Result, rec.ID)
	return rec.ID, nil
}

// RecentRecords returns the newest records, up to limit.
func (s *LocalStore) RecentRecords(limit int) ([]GenerationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(
		`SELECT id, record_type, prompt_version_id, user_prompt, result, error_message, quality_score, metadata, created_at
		 FROM generation_records ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	defer rows.Close()

	var records []GenerationRecord
	for rows.Next() {
		var rec GenerationRecord
		var promptVersion, userPrompt, errorMessage sql.NullString
		var qualityScore sql.NullInt64
		var metadataJSON string
		if err := rows.Scan(&rec.ID, &rec.Type, &promptVersion, &userPrompt, &rec.Result,
			&errorMessage, &qualityScore, &metadataJSON, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		rec.PromptVersionID = promptVersion.String
		rec.UserPrompt = userPrompt.String
		rec.ErrorMessage = errorMessage.String
		rec.QualityScore = int(qualityScore.Int64)
		if err := json.Unmarshal([]byte(metadataJSON), &rec.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// SuccessRate returns the fraction of records of the given type with a
// success result, or 0 when none exist.
func (s *LocalStore) SuccessRate(recordType string) (float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var total, successes int
	err := s.db.QueryRow(
		`SELECT COUNT(*), COALESCE(SUM(CASE WHEN result = ? THEN 1 ELSE 0 END), 0)
		 FROM generation_records WHERE record_type = ?`,
		OutcomeSuccess, recordType,
	).Scan(&total, &successes)
	if err != nil {
		return 0, fmt.Errorf("failed to compute success rate: %w", err)
	}
	if total == 0 {
		return 0, nil
	}
	return float64(successes) / float64(total), nil
}
