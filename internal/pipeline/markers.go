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

package pipeline

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-crm/ingestion/internal/models"
)

// MarkerStore is the authoritative write-once idempotency guard, keyed
// on external message id. The Redis filter in front of it only saves a
// round trip; this table is what actually prevents double processing.
type MarkerStore struct {
	pool *pgxpool.Pool
}

// NewMarkerStore creates the store and ensures its table exists.
func NewMarkerStore(ctx context.Context, pool *pgxpool.Pool) (*MarkerStore, error) {
	s := &MarkerStore{pool: pool}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure marker schema: %w", err)
	}
	return s, nil
}

func (s *MarkerStore) ensureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS processed_markers (
			external_message_id  TEXT PRIMARY KEY,
			storage_key          TEXT NOT NULL,
			extraction_result_id TEXT NOT NULL,
			processed_at         TIMESTAMPTZ DEFAULT NOW()
		);
	`)
	return err
}

// Exists reports whether the external message id was already processed.
func (s *MarkerStore) Exists(ctx context.Context, externalMessageID string) (bool, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(1) FROM processed_markers WHERE external_message_id = $1`,
		externalMessageID).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Write records the marker. Write-once: a conflicting insert is a no-op,
// so a retried pipeline run cannot flip an existing marker.
func (s *MarkerStore) Write(ctx context.Context, m models.ProcessedMarker) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO processed_markers (external_message_id, storage_key, extraction_result_id, processed_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (external_message_id) DO NOTHING
	`, m.ExternalMessageID, m.StorageKey, m.ExtractionResultID, m.ProcessedAt)
	return err
}
