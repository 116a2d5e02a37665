// Package store persists transcripts and their classified sentences in SQLite.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	"care-transcript-relay/internal/config"
	"care-transcript-relay/internal/models"
	"care-transcript-relay/internal/observability/metrics"
)

var (
	// ErrNotFound is returned when a referenced transcript does not exist.
	ErrNotFound = errors.New("transcript not found")
	// ErrInvalidSequence is returned when sentence sequence ids are not 0..n-1 in order.
	ErrInvalidSequence = errors.New("sentence sequence ids must be contiguous from zero")
)

// timeLayout sorts lexically in the same order as time.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Store wraps a SQLite database of transcripts and sentences.
type Store struct {
	db      *sql.DB
	clock   func() time.Time
	newID   func() string
	metrics *metrics.Metrics
}

// Open creates the database file if needed and applies the schema.
// It returns nil, nil when storage is disabled.
func Open(ctx context.Context, cfg config.StoreConfig) (*Store, error) {
	if !cfg.Enabled {
		log.Info().Msg("Transcript store disabled")
		return nil, nil
	}

	dir := filepath.Dir(cfg.Path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{
		db:      db,
		clock:   time.Now,
		newID:   uuid.NewString,
		metrics: metrics.DefaultMetrics,
	}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	log.Info().Str("path", cfg.Path).Msg("Transcript store opened")
	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS transcripts (
    id TEXT PRIMARY KEY,
    caregiver_id TEXT NOT NULL,
    raw_text TEXT NOT NULL,
    created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_transcripts_caregiver_created ON transcripts(caregiver_id, created_at);
CREATE TABLE IF NOT EXISTS sentences (
    id TEXT PRIMARY KEY,
    transcript_id TEXT NOT NULL,
    sequence_id INTEGER NOT NULL,
    text TEXT NOT NULL,
    category TEXT NOT NULL,
    FOREIGN KEY(transcript_id) REFERENCES transcripts(id) ON DELETE CASCADE,
    UNIQUE(transcript_id, sequence_id)
);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

// Close releases the database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// CreateTranscript stores a transcript and returns it with its id and creation time.
func (s *Store) CreateTranscript(ctx context.Context, caregiverID, rawText string) (models.Transcript, error) {
	t := models.Transcript{
		ID:          s.newID(),
		CaregiverID: caregiverID,
		RawText:     rawText,
		CreatedAt:   s.clock().UTC(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO transcripts(id, caregiver_id, raw_text, created_at) VALUES(?, ?, ?, ?)`,
		t.ID, t.CaregiverID, t.RawText, t.CreatedAt.Format(timeLayout))
	if err != nil {
		s.metrics.RecordStoreError("create_transcript")
		return models.Transcript{}, fmt.Errorf("insert transcript: %w", err)
	}
	return t, nil
}

// CreateSentences stores every sentence of a transcript in one transaction.
func (s *Store) CreateSentences(ctx context.Context, transcriptID string, inputs []models.SentenceInput) (_ []models.Sentence, err error) {
	for i, in := range inputs {
		if in.SequenceID != i {
			return nil, fmt.Errorf("%w: position %d has sequence id %d", ErrInvalidSequence, i, in.SequenceID)
		}
	}

	defer func() {
		if err != nil {
			s.metrics.RecordStoreError("create_sentences")
		}
	}()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	var exists int
	if err = tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM transcripts WHERE id = ?`, transcriptID).Scan(&exists); err != nil {
		return nil, err
	}
	if exists == 0 {
		err = fmt.Errorf("%w: %s", ErrNotFound, transcriptID)
		return nil, err
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO sentences(id, transcript_id, sequence_id, text, category) VALUES(?, ?, ?, ?, ?)`)
	if err != nil {
		return nil, err
	}
	defer stmt.Close()

	out := make([]models.Sentence, 0, len(inputs))
	for _, in := range inputs {
		row := models.Sentence{
			ID:           s.newID(),
			TranscriptID: transcriptID,
			SequenceID:   in.SequenceID,
			Text:         in.Text,
			Category:     in.Category,
		}
		if _, err = stmt.ExecContext(ctx, row.ID, row.TranscriptID, row.SequenceID, row.Text, string(row.Category)); err != nil {
			return nil, fmt.Errorf("insert sentence %d: %w", in.SequenceID, err)
		}
		out = append(out, row)
	}

	if err = tx.Commit(); err != nil {
		return nil, err
	}
	return out, nil
}

// GetTranscripts returns a caregiver's transcripts, newest first.
func (s *Store) GetTranscripts(ctx context.Context, caregiverID string) ([]models.Transcript, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, caregiver_id, raw_text, created_at FROM transcripts
		 WHERE caregiver_id = ? ORDER BY created_at DESC, rowid DESC`, caregiverID)
	if err != nil {
		s.metrics.RecordStoreError("get_transcripts")
		return nil, err
	}
	defer rows.Close()

	out := []models.Transcript{}
	for rows.Next() {
		var t models.Transcript
		var created string
		if err := rows.Scan(&t.ID, &t.CaregiverID, &t.RawText, &created); err != nil {
			return nil, err
		}
		if ts, err := time.Parse(timeLayout, strings.TrimSpace(created)); err == nil {
			t.CreatedAt = ts
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// GetSentences returns a transcript's sentences ordered by sequence id.
// An unknown transcript yields ErrNotFound.
func (s *Store) GetSentences(ctx context.Context, transcriptID string) ([]models.Sentence, error) {
	var exists int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM transcripts WHERE id = ?`, transcriptID).Scan(&exists); err != nil {
		s.metrics.RecordStoreError("get_sentences")
		return nil, err
	}
	if exists == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, transcriptID)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, transcript_id, sequence_id, text, category FROM sentences
		 WHERE transcript_id = ? ORDER BY sequence_id ASC`, transcriptID)
	if err != nil {
		s.metrics.RecordStoreError("get_sentences")
		return nil, err
	}
	defer rows.Close()

	out := []models.Sentence{}
	for rows.Next() {
		var row models.Sentence
		var category string
		if err := rows.Scan(&row.ID, &row.TranscriptID, &row.SequenceID, &row.Text, &category); err != nil {
			return nil, err
		}
		row.Category = models.Category(category)
		out = append(out, row)
	}
	return out, rows.Err()
}
