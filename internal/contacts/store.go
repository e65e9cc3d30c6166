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

// Package contacts resolves extracted contacts against the canonical
// address book: exact and fuzzy deduplication, merging, and
// organization match-or-create.
package contacts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-crm/ingestion/internal/models"
)

// ErrNotFound is returned for merge/lookup operations on missing or
// already-deleted ids. Callers must not auto-retry it.
var ErrNotFound = errors.New("contact not found")

// Store provides CRUD and resolution operations over contacts and
// organizations in Postgres.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates the store and ensures its tables exist.
func NewStore(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	s := &Store{pool: pool}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure contacts schema: %w", err)
	}
	return s, nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS organizations (
			id      BIGSERIAL PRIMARY KEY,
			name    TEXT NOT NULL,
			type    TEXT DEFAULT '',
			country TEXT DEFAULT ''
		);
		CREATE UNIQUE INDEX IF NOT EXISTS idx_orgs_name ON organizations(LOWER(name));

		CREATE TABLE IF NOT EXISTS contacts (
			id              BIGSERIAL PRIMARY KEY,
			address         TEXT NOT NULL,
			display_name    TEXT DEFAULT '',
			phone           TEXT DEFAULT '',
			title           TEXT DEFAULT '',
			organization_id BIGINT REFERENCES organizations(id),
			created_at      TIMESTAMPTZ DEFAULT NOW(),
			updated_at      TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE UNIQUE INDEX IF NOT EXISTS idx_contacts_address ON contacts(LOWER(address));
	`)
	return err
}

const contactColumns = `id, address, display_name, phone, title, organization_id, created_at, updated_at`

func scanContact(row pgx.Row) (*models.ContactRecord, error) {
	var c models.ContactRecord
	err := row.Scan(&c.ID, &c.Address, &c.DisplayName, &c.Phone, &c.Title,
		&c.OrganizationID, &c.CreatedAt, &c.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// GetByID fetches one contact.
func (s *Store) GetByID(ctx context.Context, id int64) (*models.ContactRecord, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+contactColumns+` FROM contacts WHERE id = $1`, id)
	return scanContact(row)
}

// GetByAddress fetches a contact by case-insensitive address.
func (s *Store) GetByAddress(ctx context.Context, address string) (*models.ContactRecord, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+contactColumns+` FROM contacts WHERE LOWER(address) = $1`,
		models.NormalizeAddress(address))
	return scanContact(row)
}

// List returns all contacts ordered by address. The address book is a
// single organization's correspondents, so one page suffices.
func (s *Store) List(ctx context.Context) ([]models.ContactRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+contactColumns+` FROM contacts ORDER BY LOWER(address)`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.ContactRecord
	for rows.Next() {
		var c models.ContactRecord
		if err := rows.Scan(&c.ID, &c.Address, &c.DisplayName, &c.Phone, &c.Title,
			&c.OrganizationID, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Create inserts a new contact.
func (s *Store) Create(ctx context.Context, c models.ContactRecord) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO contacts (address, display_name, phone, title, organization_id)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`, c.Address, c.DisplayName, c.Phone, c.Title, c.OrganizationID).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert contact %s: %w", c.Address, err)
	}
	return id, nil
}

// Update overwrites a contact row.
func (s *Store) Update(ctx context.Context, c models.ContactRecord) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE contacts
		SET address = $1, display_name = $2, phone = $3, title = $4,
		    organization_id = $5, updated_at = NOW()
		WHERE id = $6
	`, c.Address, c.DisplayName, c.Phone, c.Title, c.OrganizationID, c.ID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes a contact. Deleting an absent id is a no-op so a
// repeated merge cleanup stays safe.
func (s *Store) Delete(ctx context.Context, id int64) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM contacts WHERE id = $1`, id)
	return err
}

// FieldChoice selects which side of a merge supplies a field.
type FieldChoice string

const (
	FromPrimary   FieldChoice = "primary"
	FromSecondary FieldChoice = "secondary"
)

// MergeSelection maps field name → side for a merge. Recognised fields:
// display_name, phone, title, organization. Unlisted fields keep the
// primary's value.
type MergeSelection map[string]FieldChoice

// buildMerged applies the merge selection over two contact records. The
// primary's identity (id, address) always survives.
func buildMerged(primary, secondary models.ContactRecord, sel MergeSelection) models.ContactRecord {
	merged := primary
	if sel["display_name"] == FromSecondary {
		merged.DisplayName = secondary.DisplayName
	}
	if sel["phone"] == FromSecondary {
		merged.Phone = secondary.Phone
	}
	if sel["title"] == FromSecondary {
		merged.Title = secondary.Title
	}
	if sel["organization"] == FromSecondary {
		merged.OrganizationID = secondary.OrganizationID
	}
	return merged
}

// contactOps is the store surface the merge sequence needs.
type contactOps interface {
	GetByID(ctx context.Context, id int64) (*models.ContactRecord, error)
	Update(ctx context.Context, c models.ContactRecord) error
	Delete(ctx context.Context, id int64) error
}

// Merge folds the secondary contact into the primary: build the merged
// record per the selection, overwrite the primary row, delete the
// secondary. The two steps are separate statements; if the delete fails
// the caller may retry, since the repeated update is harmless and a
// repeated delete is a no-op.
func (s *Store) Merge(ctx context.Context, primaryID, secondaryID int64, sel MergeSelection) (*models.ContactRecord, error) {
	return mergeContacts(ctx, s, primaryID, secondaryID, sel)
}

func mergeContacts(ctx context.Context, ops contactOps, primaryID, secondaryID int64, sel MergeSelection) (*models.ContactRecord, error) {
	primary, err := ops.GetByID(ctx, primaryID)
	if err != nil {
		return nil, fmt.Errorf("load primary %d: %w", primaryID, err)
	}
	secondary, err := ops.GetByID(ctx, secondaryID)
	if err != nil {
		return nil, fmt.Errorf("load secondary %d: %w", secondaryID, err)
	}

	merged := buildMerged(*primary, *secondary, sel)

	if err := ops.Update(ctx, merged); err != nil {
		return nil, fmt.Errorf("update primary %d: %w", primaryID, err)
	}
	if err := ops.Delete(ctx, secondaryID); err != nil {
		return nil, fmt.Errorf("delete secondary %d: %w", secondaryID, err)
	}

	slog.Info("merged contacts",
		"primary", primaryID,
		"secondary", secondaryID,
	)
	return &merged, nil
}

// MatchOrCreateOrg resolves an organization name to an id: trim, exact
// case-insensitive match reuses the existing row, otherwise a new row
// is created. No fuzzy matching on organization names.
func (s *Store) MatchOrCreateOrg(ctx context.Context, name, orgType, country string) (int64, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return 0, fmt.Errorf("empty organization name")
	}

	var id int64
	err := s.pool.QueryRow(ctx,
		`SELECT id FROM organizations WHERE LOWER(name) = LOWER($1)`, name).Scan(&id)
	if err == nil {
		return id, nil
	}
	if err != pgx.ErrNoRows {
		return 0, err
	}

	err = s.pool.QueryRow(ctx, `
		INSERT INTO organizations (name, type, country)
		VALUES ($1, $2, $3)
		RETURNING id
	`, name, orgType, country).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert organization %s: %w", name, err)
	}
	return id, nil
}

// ListOrganizations returns all organizations ordered by name.
func (s *Store) ListOrganizations(ctx context.Context) ([]models.OrganizationRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, type, country FROM organizations ORDER BY LOWER(name)`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.OrganizationRecord
	for rows.Next() {
		var o models.OrganizationRecord
		if err := rows.Scan(&o.ID, &o.Name, &o.Type, &o.Country); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}
