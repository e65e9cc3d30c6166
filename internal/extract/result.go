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

// Package extract turns a decoded Envelope into structured extraction
// data: a deterministic header pass, an AI-assisted structured pass, and
// a merge that keeps header-derived identities on top.
package extract

// Payload is the JSON shape requested from the text-understanding
// service. Optional sub-objects are pointers: absence is meaningful to
// the confidence aggregation, so a missing field must stay
// distinguishable from a zero one.
type Payload struct {
	Contacts           []PayloadContact    `json:"contacts"`
	Relationships      []Relationship      `json:"relationships"`
	Engagement         *EngagementSignal   `json:"engagement"`
	Fundraising        *FundraisingSignal  `json:"fundraising"`
	ActionItems        []ActionItem        `json:"action_items"`
	Scheduling         *SchedulingSignal   `json:"scheduling"`
	Topics             []string            `json:"topics"`
	StakeholderProfile *StakeholderProfile `json:"stakeholder_profile"`
	Metadata           *ExtractionMetadata `json:"metadata"`
	Summary            string              `json:"summary"`
	NextSteps          []string            `json:"recommended_next_steps"`
	Flags              []string            `json:"flags"`
}

// PayloadContact is one AI-identified person.
type PayloadContact struct {
	Name         string `json:"name"`
	Address      string `json:"email"`
	Organization string `json:"organization"`
	Confidence   int    `json:"confidence"`
}

// Relationship links two contacts mentioned in the message.
type Relationship struct {
	From        string `json:"from"`
	To          string `json:"to"`
	Description string `json:"description"`
}

// EngagementSignal describes how engaged the correspondent appears.
type EngagementSignal struct {
	Level      string `json:"level"`
	Confidence *int   `json:"confidence"`
}

// FundraisingSignal captures donation or funding intent.
type FundraisingSignal struct {
	Indicator string `json:"indicator"`
	Amount    string `json:"amount"`
}

// ActionItem is a task the message asks for.
type ActionItem struct {
	Description string `json:"description"`
	Owner       string `json:"owner"`
	DueHint     string `json:"due_hint"`
}

// SchedulingSignal captures proposed meetings or deadlines.
type SchedulingSignal struct {
	Description string `json:"description"`
	When        string `json:"when"`
}

// StakeholderProfile summarises the sender's role and interests.
type StakeholderProfile struct {
	Role      string   `json:"role"`
	Interests []string `json:"interests"`
	Notes     string   `json:"notes"`
}

// ExtractionMetadata carries document-version hints parsed from
// attachment filenames and dates, plus the model's own confidence in
// the metadata pass.
type ExtractionMetadata struct {
	DocumentVersions []DocumentVersion `json:"document_versions"`
	Confidence       *int              `json:"confidence"`
}

// DocumentVersion is a version hint for one attachment.
type DocumentVersion struct {
	Filename string `json:"filename"`
	Version  string `json:"version"`
	Date     string `json:"date"`
}

// EngagementConfidence returns the engagement sub-score, reporting
// whether it was present in the payload.
func (p *Payload) EngagementConfidence() (int, bool) {
	if p == nil || p.Engagement == nil || p.Engagement.Confidence == nil {
		return 0, false
	}
	return clampScore(*p.Engagement.Confidence), true
}

// MetadataConfidence returns the metadata sub-score, reporting whether
// it was present in the payload.
func (p *Payload) MetadataConfidence() (int, bool) {
	if p == nil || p.Metadata == nil || p.Metadata.Confidence == nil {
		return 0, false
	}
	return clampScore(*p.Metadata.Confidence), true
}

func clampScore(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
