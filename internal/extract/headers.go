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
	"strings"

	"github.com/meridian-crm/ingestion/internal/models"
)

// Header-derived confidence levels. The From address identifies the
// actual correspondent; To/Cc entries may be lists or aliases.
const (
	fromConfidence      = 95
	recipientConfidence = 90
)

// HeaderContacts builds the deterministic contact list from the
// envelope's From/To/Cc headers. It makes no external calls and always
// succeeds, guaranteeing a minimum contact yield even when the AI
// extraction fails entirely. Addresses are deduplicated per message,
// first occurrence wins.
func HeaderContacts(env *models.Envelope) []models.ExtractedContact {
	var out []models.ExtractedContact
	seen := make(map[string]bool)

	add := func(name, address, provenance string, confidence int) {
		norm := models.NormalizeAddress(address)
		if norm == "" || seen[norm] {
			return
		}
		seen[norm] = true
		out = append(out, models.ExtractedContact{
			Name:              name,
			Address:           address,
			OrganizationGuess: addressDomain(address),
			Confidence:        confidence,
			Provenance:        provenance,
		})
	}

	add(env.FromDisplayName, env.FromAddress, models.ProvenanceHeaderFrom, fromConfidence)
	for _, addr := range env.ToAddresses {
		add("", addr, models.ProvenanceHeaderTo, recipientConfidence)
	}
	for _, addr := range env.CcAddresses {
		add("", addr, models.ProvenanceHeaderCc, recipientConfidence)
	}

	return out
}

// addressDomain guesses an organization from the address's domain part.
func addressDomain(address string) string {
	at := strings.LastIndex(address, "@")
	if at < 0 || at == len(address)-1 {
		return ""
	}
	return strings.ToLower(address[at+1:])
}
