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
	"sort"
	"strings"

	"github.com/agnivade/levenshtein"

	"github.com/meridian-crm/ingestion/internal/models"
)

// Fuzzy thresholds per call site. Import batches are small and benefit
// from the looser match; a full address-book scan produces quadratically
// more pairs, so its false-positive cost is higher.
const (
	ImportThreshold = 0.85
	ScanThreshold   = 0.90
)

// Candidate is one contact considered for deduplication.
type Candidate struct {
	ID      int64  `json:"id,omitempty"`
	Name    string `json:"name"`
	Address string `json:"address"`
}

// Duplicate group reasons.
const (
	ReasonAddress = "address"
	ReasonName    = "name-similarity"
)

// DuplicateGroup is a set of candidates believed to be the same person.
// Address groups are certain (confidence 1.0); name groups carry the
// similarity score.
type DuplicateGroup struct {
	Candidates []Candidate `json:"candidates"`
	Confidence float64     `json:"confidence"`
	Reason     string      `json:"reason"`
}

// FindDuplicates runs both dedup passes over a candidate set: exact
// grouping on normalised address, then pairwise name similarity for
// candidates that do not share an address. The fuzzy pass is O(n²),
// acceptable because the set is one import batch or one scan page,
// never the full address book.
func FindDuplicates(cands []Candidate, threshold float64) []DuplicateGroup {
	var groups []DuplicateGroup

	byAddress := make(map[string][]Candidate)
	for _, c := range cands {
		norm := models.NormalizeAddress(c.Address)
		if norm == "" {
			continue
		}
		byAddress[norm] = append(byAddress[norm], c)
	}

	var addrs []string
	for a, g := range byAddress {
		if len(g) > 1 {
			addrs = append(addrs, a)
		}
	}
	sort.Strings(addrs)
	for _, a := range addrs {
		groups = append(groups, DuplicateGroup{
			Candidates: byAddress[a],
			Confidence: 1.0,
			Reason:     ReasonAddress,
		})
	}

	for i := 0; i < len(cands); i++ {
		for j := i + 1; j < len(cands); j++ {
			a, b := cands[i], cands[j]
			if models.NormalizeAddress(a.Address) == models.NormalizeAddress(b.Address) &&
				models.NormalizeAddress(a.Address) != "" {
				continue // already a certain duplicate
			}
			sim := NameSimilarity(a.Name, b.Name)
			if sim >= threshold {
				groups = append(groups, DuplicateGroup{
					Candidates: []Candidate{a, b},
					Confidence: sim,
					Reason:     ReasonName,
				})
			}
		}
	}

	return groups
}

// NameSimilarity compares two "first last" strings:
// 1 - editDistance/max(lengths), on lower-cased, space-collapsed names.
func NameSimilarity(a, b string) float64 {
	na := normalizeName(a)
	nb := normalizeName(b)
	if na == "" || nb == "" {
		return 0
	}
	if na == nb {
		return 1
	}

	dist := levenshtein.ComputeDistance(na, nb)
	maxLen := len([]rune(na))
	if l := len([]rune(nb)); l > maxLen {
		maxLen = l
	}
	return 1 - float64(dist)/float64(maxLen)
}

func normalizeName(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}
