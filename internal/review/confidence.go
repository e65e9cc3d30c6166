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

// Package review computes overall extraction confidence, persists
// results, and routes low-confidence ones to human review.
package review

import (
	"fmt"
	"math"

	"github.com/meridian-crm/ingestion/internal/extract"
	"github.com/meridian-crm/ingestion/internal/models"
)

// ApprovalThreshold is the confidence at or above which an extraction
// is auto-approved without human review.
const ApprovalThreshold = 70

// AggregateConfidence is the rounded mean of the engagement sub-score,
// the metadata sub-score, and every merged contact's confidence. A
// sub-score absent from the payload counts as 0 but stays in the
// denominator, so a message with no signals scores 0 and lands in
// review rather than being auto-approved.
func AggregateConfidence(p *extract.Payload, contacts []models.ExtractedContact) int {
	sum := 0
	count := 0

	engagement, _ := p.EngagementConfidence()
	sum += engagement
	count++

	metadata, _ := p.MetadataConfidence()
	sum += metadata
	count++

	for _, c := range contacts {
		sum += c.Confidence
		count++
	}

	if count == 0 {
		return 0
	}
	return int(math.Round(float64(sum) / float64(count)))
}

// RouteStatus maps an overall confidence to the initial review status:
// approved at or above the threshold, pending below it.
func RouteStatus(confidence int) string {
	if confidence >= ApprovalThreshold {
		return models.ReviewApproved
	}
	return models.ReviewPending
}

// reviewNeededBody renders the notification raised for a pending result.
func reviewNeededBody(r *models.ExtractionResult) string {
	return fmt.Sprintf("subject %q scored %d (%d contacts, %d attachments)",
		r.Subject, r.OverallConfidence, len(r.Contacts), r.AttachmentCount)
}
