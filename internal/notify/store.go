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

// Package notify provides the operator notification feed. Webhook
// callers always see success; this feed is where ingestion failures and
// review requests actually surface.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-crm/ingestion/internal/models"
)

// Notifier is the narrow interface pipeline components depend on.
type Notifier interface {
	Notify(ctx context.Context, severity, title, body string)
}

// Store is a Postgres-backed notification feed.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates the feed and ensures its table exists.
func NewStore(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	s := &Store{pool: pool}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure notification schema: %w", err)
	}
	return s, nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS notifications (
			id         TEXT PRIMARY KEY,
			severity   TEXT NOT NULL,
			title      TEXT NOT NULL,
			body       TEXT DEFAULT '',
			created_at TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_notifications_created ON notifications(created_at DESC);
	`)
	return err
}

// Notify appends an entry to the feed. Failures are logged, never
// propagated: a notification must not take down the step that raised it.
func (s *Store) Notify(ctx context.Context, severity, title, body string) {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO notifications (id, severity, title, body)
		VALUES ($1, $2, $3, $4)
	`, uuid.New().String(), severity, title, body)
	if err != nil {
		slog.Error("failed to record notification",
			"title", title,
			"error", err,
		)
	}
}

// List returns the most recent notifications, newest first.
func (s *Store) List(ctx context.Context, limit int) ([]models.Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, severity, title, body, created_at
		FROM notifications
		ORDER BY created_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Notification
	for rows.Next() {
		var n models.Notification
		var created time.Time
		if err := rows.Scan(&n.ID, &n.Severity, &n.Title, &n.Body, &created); err != nil {
			return nil, err
		}
		n.CreatedAt = created
		out = append(out, n)
	}
	return out, rows.Err()
}
