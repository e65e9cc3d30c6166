// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package review

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-crm/ingestion/internal/models"
	"github.com/meridian-crm/ingestion/internal/notify"
)

// ErrNotFound is returned when no extraction result exists for an id.
var ErrNotFound = errors.New("extraction result not found")

// ErrInvalidStatus is returned for a review status outside the known set.
var ErrInvalidStatus = errors.New("invalid review status")

// Summary is the listing view of an extraction result.
type Summary struct {
	ID                string    `json:"id"`
	ExternalMessageID string    `json:"external_message_id"`
	Subject           string    `json:"subject"`
	OverallConfidence int       `json:"overall_confidence"`
	ReviewStatus      string    `json:"review_status"`
	ContactCount      int       `json:"contact_count"`
	CreatedAt         time.Time `json:"created_at"`
}

// Store persists extraction results and their review records.
type Store struct {
	pool     *pgxpool.Pool
	notifier notify.Notifier
}

// NewStore creates the store and ensures its tables exist.
func NewStore(ctx context.Context, pool *pgxpool.Pool, notifier notify.Notifier) (*Store, error) {
	s := &Store{pool: pool, notifier: notifier}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure review schema: %w", err)
	}
	return s, nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS extraction_results (
			id                  TEXT PRIMARY KEY,
			external_message_id TEXT NOT NULL,
			subject             TEXT DEFAULT '',
			overall_confidence  INT NOT NULL,
			contact_count       INT NOT NULL DEFAULT 0,
			document            JSONB NOT NULL,
			created_at          TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_results_message ON extraction_results(external_message_id);
		CREATE INDEX IF NOT EXISTS idx_results_created ON extraction_results(created_at DESC);

		CREATE TABLE IF NOT EXISTS review_records (
			extraction_result_id TEXT PRIMARY KEY REFERENCES extraction_results(id),
			status               TEXT NOT NULL DEFAULT 'pending',
			reviewed_by          TEXT DEFAULT '',
			reviewed_at          TIMESTAMPTZ
		);
		CREATE INDEX IF NOT EXISTS idx_reviews_status ON review_records(status);
	`)
	return err
}

// SaveAndRoute persists the extraction result, then creates its review
// record from the confidence threshold. The result is always persisted
// before the threshold check, so a low-confidence extraction is never
// silently dropped. Returns the review status assigned.
func (s *Store) SaveAndRoute(ctx context.Context, r *models.ExtractionResult) (string, error) {
	doc, err := json.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("marshal extraction result: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO extraction_results
			(id, external_message_id, subject, overall_confidence, contact_count, document, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, r.ID, r.ExternalMessageID, r.Subject, r.OverallConfidence, len(r.Contacts), doc, r.CreatedAt)
	if err != nil {
		return "", fmt.Errorf("insert extraction result: %w", err)
	}

	status := RouteStatus(r.OverallConfidence)

	_, err = s.pool.Exec(ctx, `
		INSERT INTO review_records (extraction_result_id, status)
		VALUES ($1, $2)
	`, r.ID, status)
	if err != nil {
		return "", fmt.Errorf("insert review record: %w", err)
	}

	if status == models.ReviewPending && s.notifier != nil {
		s.notifier.Notify(ctx, models.NotifyWarn, "review needed", reviewNeededBody(r))
	}

	return status, nil
}

// List returns recent extraction result summaries, newest first.
func (s *Store) List(ctx context.Context, limit int) ([]Summary, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT r.id, r.external_message_id, r.subject, r.overall_confidence,
		       r.contact_count, COALESCE(v.status, 'pending'), r.created_at
		FROM extraction_results r
		LEFT JOIN review_records v ON v.extraction_result_id = r.id
		ORDER BY r.created_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var sum Summary
		if err := rows.Scan(&sum.ID, &sum.ExternalMessageID, &sum.Subject,
			&sum.OverallConfidence, &sum.ContactCount, &sum.ReviewStatus, &sum.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, sum)
	}
	return out, rows.Err()
}

// Get fetches one extraction result and its review record.
func (s *Store) Get(ctx context.Context, id string) (*models.ExtractionResult, *models.ReviewRecord, error) {
	var doc []byte
	var rec models.ReviewRecord
	err := s.pool.QueryRow(ctx, `
		SELECT r.document, COALESCE(v.status, 'pending'),
		       COALESCE(v.reviewed_by, ''), v.reviewed_at
		FROM extraction_results r
		LEFT JOIN review_records v ON v.extraction_result_id = r.id
		WHERE r.id = $1
	`, id).Scan(&doc, &rec.Status, &rec.ReviewedBy, &rec.ReviewedAt)
	if err == pgx.ErrNoRows {
		return nil, nil, ErrNotFound
	}
	if err != nil {
		return nil, nil, err
	}

	var result models.ExtractionResult
	if err := json.Unmarshal(doc, &result); err != nil {
		return nil, nil, fmt.Errorf("unmarshal extraction result %s: %w", id, err)
	}
	rec.ExtractionResultID = id
	return &result, &rec, nil
}

// UpdateReview transitions a review record via explicit human action.
func (s *Store) UpdateReview(ctx context.Context, id, status, reviewedBy string) error {
	switch status {
	case models.ReviewPending, models.ReviewApproved, models.ReviewRejected:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE review_records
		SET status = $1, reviewed_by = $2, reviewed_at = NOW()
		WHERE extraction_result_id = $3
	`, status, reviewedBy, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
