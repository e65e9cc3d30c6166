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
	"testing"

	"github.com/meridian-crm/ingestion/internal/models"
)

// TestMergeContacts_HeaderPriority verifies an AI contact sharing an
// address with a header contact never displaces it.
func TestMergeContacts_HeaderPriority(t *testing.T) {
	header := []models.ExtractedContact{
		{Name: "Alice", Address: "alice@acme.example", Confidence: 95, Provenance: models.ProvenanceHeaderFrom},
	}
	payload := &Payload{
		Contacts: []PayloadContact{
			{Name: "Alice Cooper", Address: "ALICE@acme.example", Confidence: 60},
			{Name: "Eve", Address: "eve@other.example", Confidence: 70},
		},
	}

	got := MergeContacts(header, payload)

	if len(got) != 2 {
		t.Fatalf("merged = %d, want 2", len(got))
	}
	if got[0].Confidence != 95 || got[0].Provenance != models.ProvenanceHeaderFrom {
		t.Errorf("header contact changed: %+v", got[0])
	}
	if got[0].Name != "Alice" {
		t.Errorf("header name = %q, want Alice", got[0].Name)
	}

	if got[1].Address != "eve@other.example" {
		t.Errorf("body contact address = %q", got[1].Address)
	}
	if got[1].Provenance != models.ProvenanceBody {
		t.Errorf("body provenance = %q", got[1].Provenance)
	}
	if got[1].Confidence != 70 {
		t.Errorf("body confidence = %d, want 70", got[1].Confidence)
	}
}

// TestMergeContacts_Idempotent verifies merging the merged result again
// yields the same contacts.
func TestMergeContacts_Idempotent(t *testing.T) {
	header := []models.ExtractedContact{
		{Address: "alice@acme.example", Confidence: 95, Provenance: models.ProvenanceHeaderFrom},
		{Address: "bob@beta.example", Confidence: 90, Provenance: models.ProvenanceHeaderTo},
	}
	payload := &Payload{
		Contacts: []PayloadContact{
			{Address: "eve@other.example", Confidence: 50},
		},
	}

	once := MergeContacts(header, payload)
	twice := MergeContacts(once, payload)

	if len(once) != len(twice) {
		t.Fatalf("second merge changed length: %d vs %d", len(once), len(twice))
	}
	for i := range once {
		if once[i] != twice[i] {
			t.Errorf("contact %d changed on re-merge: %+v vs %+v", i, once[i], twice[i])
		}
	}
}

// TestMergeContacts_NilPayload verifies the header-only path.
func TestMergeContacts_NilPayload(t *testing.T) {
	header := []models.ExtractedContact{
		{Address: "alice@acme.example", Confidence: 95},
	}

	got := MergeContacts(header, nil)

	if len(got) != 1 || got[0].Address != "alice@acme.example" {
		t.Errorf("merged = %+v, want header only", got)
	}
}

// TestMergeContacts_ClampsConfidence verifies out-of-range AI scores
// are clamped into [0,100].
func TestMergeContacts_ClampsConfidence(t *testing.T) {
	payload := &Payload{
		Contacts: []PayloadContact{
			{Address: "high@x.example", Confidence: 150},
			{Address: "low@x.example", Confidence: -5},
		},
	}

	got := MergeContacts(nil, payload)

	if got[0].Confidence != 100 {
		t.Errorf("high confidence = %d, want 100", got[0].Confidence)
	}
	if got[1].Confidence != 0 {
		t.Errorf("low confidence = %d, want 0", got[1].Confidence)
	}
}

// TestMergeContacts_SkipsEmptyAddress verifies AI contacts without an
// address are dropped.
func TestMergeContacts_SkipsEmptyAddress(t *testing.T) {
	payload := &Payload{
		Contacts: []PayloadContact{
			{Name: "No Address", Confidence: 80},
		},
	}

	if got := MergeContacts(nil, payload); len(got) != 0 {
		t.Errorf("merged = %+v, want none", got)
	}
}
