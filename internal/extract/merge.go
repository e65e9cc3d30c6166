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

package extract

import (
	"github.com/meridian-crm/ingestion/internal/models"
)

// MergeContacts combines the deterministic header contacts with the
// AI-derived ones. Header contacts are inserted first and
// unconditionally; an AI contact is added only when its normalised
// address has not been seen, so a header-derived identity is never
// overwritten by a lower-fidelity guess of the same address.
func MergeContacts(header []models.ExtractedContact, payload *Payload) []models.ExtractedContact {
	merged := make([]models.ExtractedContact, 0, len(header))
	seen := make(map[string]bool)

	for _, c := range header {
		merged = append(merged, c)
		seen[models.NormalizeAddress(c.Address)] = true
	}

	if payload == nil {
		return merged
	}

	for _, pc := range payload.Contacts {
		norm := models.NormalizeAddress(pc.Address)
		if norm == "" || seen[norm] {
			continue
		}
		seen[norm] = true
		merged = append(merged, models.ExtractedContact{
			Name:              pc.Name,
			Address:           pc.Address,
			OrganizationGuess: pc.Organization,
			Confidence:        clampScore(pc.Confidence),
			Provenance:        models.ProvenanceBody,
		})
	}

	return merged
}
