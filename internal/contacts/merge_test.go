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
	"testing"

	"github.com/meridian-crm/ingestion/internal/models"
)

// fakeContactOps is an in-memory contactOps over a map.
type fakeContactOps struct {
	records map[int64]models.ContactRecord
}

func (f *fakeContactOps) GetByID(ctx context.Context, id int64) (*models.ContactRecord, error) {
	c, ok := f.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &c, nil
}

func (f *fakeContactOps) Update(ctx context.Context, c models.ContactRecord) error {
	if _, ok := f.records[c.ID]; !ok {
		return ErrNotFound
	}
	f.records[c.ID] = c
	return nil
}

func (f *fakeContactOps) Delete(ctx context.Context, id int64) error {
	delete(f.records, id)
	return nil
}

func orgPtr(v int64) *int64 { return &v }

func mergePair() (models.ContactRecord, models.ContactRecord) {
	primary := models.ContactRecord{
		ID:             1,
		Address:        "jon@acme.example",
		DisplayName:    "Jon Smith",
		Phone:          "555-0100",
		Title:          "Director",
		OrganizationID: orgPtr(10),
	}
	secondary := models.ContactRecord{
		ID:             2,
		Address:        "j.smith@acme.example",
		DisplayName:    "Jonathan Smith",
		Phone:          "555-0199",
		Title:          "Managing Director",
		OrganizationID: orgPtr(20),
	}
	return primary, secondary
}

// TestBuildMerged verifies per-field selection: each field follows its
// chosen side, identity always stays with the primary.
func TestBuildMerged(t *testing.T) {
	primary, secondary := mergePair()

	tests := []struct {
		name string
		sel  MergeSelection
		want models.ContactRecord
	}{
		{
			name: "all from primary",
			sel:  MergeSelection{},
			want: primary,
		},
		{
			name: "all from secondary",
			sel: MergeSelection{
				"display_name": FromSecondary,
				"phone":        FromSecondary,
				"title":        FromSecondary,
				"organization": FromSecondary,
			},
			want: models.ContactRecord{
				ID:             1,
				Address:        "jon@acme.example",
				DisplayName:    "Jonathan Smith",
				Phone:          "555-0199",
				Title:          "Managing Director",
				OrganizationID: orgPtr(20),
			},
		},
		{
			name: "mixed selection",
			sel: MergeSelection{
				"display_name": FromSecondary,
				"phone":        FromPrimary,
				"organization": FromSecondary,
			},
			want: models.ContactRecord{
				ID:             1,
				Address:        "jon@acme.example",
				DisplayName:    "Jonathan Smith",
				Phone:          "555-0100",
				Title:          "Director",
				OrganizationID: orgPtr(20),
			},
		},
		{
			name: "unknown field names are ignored",
			sel:  MergeSelection{"address": FromSecondary, "id": FromSecondary},
			want: primary,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := buildMerged(primary, secondary, tt.sel)
			if got.ID != tt.want.ID || got.Address != tt.want.Address {
				t.Errorf("identity = %d %q, want %d %q", got.ID, got.Address, tt.want.ID, tt.want.Address)
			}
			if got.DisplayName != tt.want.DisplayName {
				t.Errorf("display_name = %q, want %q", got.DisplayName, tt.want.DisplayName)
			}
			if got.Phone != tt.want.Phone {
				t.Errorf("phone = %q, want %q", got.Phone, tt.want.Phone)
			}
			if got.Title != tt.want.Title {
				t.Errorf("title = %q, want %q", got.Title, tt.want.Title)
			}
			if (got.OrganizationID == nil) != (tt.want.OrganizationID == nil) ||
				(got.OrganizationID != nil && *got.OrganizationID != *tt.want.OrganizationID) {
				t.Errorf("organization = %v, want %v", got.OrganizationID, tt.want.OrganizationID)
			}
		})
	}
}

// TestMergeContacts verifies the end state: the secondary id is gone and
// the primary carries the chosen fields.
func TestMergeContacts(t *testing.T) {
	primary, secondary := mergePair()
	ops := &fakeContactOps{records: map[int64]models.ContactRecord{
		primary.ID:   primary,
		secondary.ID: secondary,
	}}

	merged, err := mergeContacts(context.Background(), ops, primary.ID, secondary.ID,
		MergeSelection{"phone": FromSecondary})
	if err != nil {
		t.Fatalf("mergeContacts: %v", err)
	}

	if merged.Phone != "555-0199" {
		t.Errorf("merged phone = %q, want secondary's", merged.Phone)
	}
	if merged.DisplayName != "Jon Smith" {
		t.Errorf("merged display_name = %q, want primary's", merged.DisplayName)
	}

	if _, err := ops.GetByID(context.Background(), secondary.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("secondary lookup error = %v, want ErrNotFound", err)
	}
	kept, err := ops.GetByID(context.Background(), primary.ID)
	if err != nil {
		t.Fatalf("primary lookup: %v", err)
	}
	if kept.Phone != "555-0199" || kept.Address != "jon@acme.example" {
		t.Errorf("primary after merge = %+v", kept)
	}
}

// TestMergeContacts_MissingSecondary verifies a missing id surfaces
// ErrNotFound and leaves the primary untouched.
func TestMergeContacts_MissingSecondary(t *testing.T) {
	primary, _ := mergePair()
	ops := &fakeContactOps{records: map[int64]models.ContactRecord{primary.ID: primary}}

	_, err := mergeContacts(context.Background(), ops, primary.ID, 99, MergeSelection{})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("error = %v, want ErrNotFound", err)
	}

	kept, err := ops.GetByID(context.Background(), primary.ID)
	if err != nil {
		t.Fatalf("primary lookup: %v", err)
	}
	if kept.Phone != primary.Phone || kept.DisplayName != primary.DisplayName {
		t.Errorf("primary changed by failed merge: %+v", kept)
	}
}
