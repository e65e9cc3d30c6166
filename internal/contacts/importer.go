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

package contacts

import (
	"context"
	"errors"
	"log/slog"

	"github.com/meridian-crm/ingestion/internal/models"
)

// ImportSummary reports what an import run did per extracted contact.
type ImportSummary struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
	Skipped int `json:"skipped"`
}

// ImportExtracted folds the contacts of an approved extraction result
// into the address book. Per contact:
//
//   - exact address match: fill the existing record's empty fields;
//   - name similarity ≥ ImportThreshold against an existing contact:
//     skipped as a probable duplicate (left for a human merge);
//   - otherwise: created, with its organization guess matched-or-created.
func (s *Store) ImportExtracted(ctx context.Context, extracted []models.ExtractedContact) (ImportSummary, error) {
	var sum ImportSummary

	existing, err := s.List(ctx)
	if err != nil {
		return sum, err
	}

	for _, ec := range extracted {
		if models.NormalizeAddress(ec.Address) == "" {
			sum.Skipped++
			continue
		}

		current, err := s.GetByAddress(ctx, ec.Address)
		if err == nil {
			changed := false
			if current.DisplayName == "" && ec.Name != "" {
				current.DisplayName = ec.Name
				changed = true
			}
			if current.OrganizationID == nil && ec.OrganizationGuess != "" {
				if orgID, orgErr := s.MatchOrCreateOrg(ctx, ec.OrganizationGuess, "", ""); orgErr == nil {
					current.OrganizationID = &orgID
					changed = true
				}
			}
			if changed {
				if err := s.Update(ctx, *current); err != nil {
					return sum, err
				}
				sum.Updated++
			} else {
				sum.Skipped++
			}
			continue
		}
		if !errors.Is(err, ErrNotFound) {
			return sum, err
		}

		if probable := fuzzyMatch(ec, existing); probable != nil {
			slog.Info("skipping probable duplicate contact",
				"address", ec.Address,
				"name", ec.Name,
				"matches", probable.Address,
			)
			sum.Skipped++
			continue
		}

		record := models.ContactRecord{
			Address:     ec.Address,
			DisplayName: ec.Name,
		}
		if ec.OrganizationGuess != "" {
			if orgID, orgErr := s.MatchOrCreateOrg(ctx, ec.OrganizationGuess, "", ""); orgErr == nil {
				record.OrganizationID = &orgID
			}
		}

		id, err := s.Create(ctx, record)
		if err != nil {
			return sum, err
		}
		record.ID = id
		existing = append(existing, record)
		sum.Created++
	}

	return sum, nil
}

func fuzzyMatch(ec models.ExtractedContact, existing []models.ContactRecord) *models.ContactRecord {
	if ec.Name == "" {
		return nil
	}
	for i := range existing {
		if existing[i].DisplayName == "" {
			continue
		}
		if NameSimilarity(ec.Name, existing[i].DisplayName) >= ImportThreshold {
			return &existing[i]
		}
	}
	return nil
}

// ScanCandidates converts the whole address book into dedup candidates
// for the full-scan duplicate report.
func (s *Store) ScanCandidates(ctx context.Context) ([]Candidate, error) {
	records, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	cands := make([]Candidate, 0, len(records))
	for _, r := range records {
		cands = append(cands, Candidate{
			ID:      r.ID,
			Name:    r.DisplayName,
			Address: r.Address,
		})
	}
	return cands, nil
}
