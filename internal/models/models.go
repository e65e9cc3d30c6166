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

// Package models defines the data structures shared across the ingestion
// pipeline.
package models

import (
	"strings"
	"time"
)

// VerdictFail is the provider's failing value for a security verdict.
const VerdictFail = "FAIL"

// SecurityVerdicts carries the upstream relay's scan results for a message.
type SecurityVerdicts struct {
	Spam  string `json:"spam"`
	Virus string `json:"virus"`
	SPF   string `json:"spf"`
	DKIM  string `json:"dkim"`
	DMARC string `json:"dmarc"`
}

// RawMessageRef points at a raw message in blob storage. It is created at
// webhook intake (or by the poller after staging), consumed exactly once
// by the decoder, and never mutated.
type RawMessageRef struct {
	StorageKey           string           `json:"storage_key"`
	ExternalMessageID    string           `json:"external_message_id"`
	ReceivedAt           time.Time        `json:"received_at"`
	SourceAddress        string           `json:"source_address"`
	DestinationAddresses []string         `json:"destination_addresses"`
	Verdicts             SecurityVerdicts `json:"verdicts"`
}

// AttachmentInfo describes an attachment without retaining its bytes.
type AttachmentInfo struct {
	Filename      string `json:"filename"`
	ContentType   string `json:"content_type"`
	SizeBytes     int64  `json:"size_bytes"`
	AttachmentRef string `json:"attachment_ref"`
}

// Envelope is the decoded structural representation of a raw email.
type Envelope struct {
	Subject         string           `json:"subject"`
	FromAddress     string           `json:"from_address"`
	FromDisplayName string           `json:"from_display_name,omitempty"`
	ToAddresses     []string         `json:"to_addresses"`
	CcAddresses     []string         `json:"cc_addresses"`
	Date            time.Time        `json:"date"`
	BodyText        string           `json:"body_text"`
	Attachments     []AttachmentInfo `json:"attachments"`
}

// Contact provenance values. Header positions outrank body inference.
const (
	ProvenanceHeaderFrom = "header-from"
	ProvenanceHeaderTo   = "header-to"
	ProvenanceHeaderCc   = "header-cc"
	ProvenanceBody       = "body"
)

// ExtractedContact is a candidate person identified from a message.
// The normalised address is the per-message dedup key.
type ExtractedContact struct {
	Name              string `json:"name"`
	Address           string `json:"address"`
	OrganizationGuess string `json:"organization_guess,omitempty"`
	Confidence        int    `json:"confidence"`
	Provenance        string `json:"provenance"`
}

// NormalizeAddress lower-cases and trims an email address for comparison.
func NormalizeAddress(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}

// ExtractionResult is the persisted outcome of processing one message.
// Immutable once written, except through its linked ReviewRecord.
type ExtractionResult struct {
	ID                string             `json:"id"`
	ExternalMessageID string             `json:"external_message_id"`
	Subject           string             `json:"subject"`
	Contacts          []ExtractedContact `json:"contacts"`
	Relationships     []string           `json:"relationships,omitempty"`
	EngagementSignal  string             `json:"engagement_signal,omitempty"`
	FundraisingSignal string             `json:"fundraising_signal,omitempty"`
	ActionItems       []string           `json:"action_items,omitempty"`
	SchedulingSignal  string             `json:"scheduling_signal,omitempty"`
	Topics            []string           `json:"topics,omitempty"`
	StakeholderNotes  string             `json:"stakeholder_notes,omitempty"`
	DocumentVersions  []string           `json:"document_versions,omitempty"`
	OverallConfidence int                `json:"overall_confidence"`
	Summary           string             `json:"summary,omitempty"`
	NextSteps         []string           `json:"next_steps,omitempty"`
	AttachmentCount   int                `json:"attachment_count"`
	Flags             []string           `json:"flags,omitempty"`
	CreatedAt         time.Time          `json:"created_at"`
}

// Review statuses. A record starts pending iff confidence was below the
// approval threshold at creation; it leaves pending only via human action.
const (
	ReviewPending  = "pending"
	ReviewApproved = "approved"
	ReviewRejected = "rejected"
)

// ReviewRecord is the human-in-the-loop gate for an extraction result.
type ReviewRecord struct {
	ExtractionResultID string     `json:"extraction_result_id"`
	Status             string     `json:"status"`
	ReviewedBy         string     `json:"reviewed_by,omitempty"`
	ReviewedAt         *time.Time `json:"reviewed_at,omitempty"`
}

// ProcessedMarker is the write-once idempotency guard keyed on the
// external message id.
type ProcessedMarker struct {
	StorageKey         string    `json:"storage_key"`
	ExternalMessageID  string    `json:"external_message_id"`
	ExtractionResultID string    `json:"extraction_result_id"`
	ProcessedAt        time.Time `json:"processed_at"`
}

// ContactRecord is the canonical address-book entity. Address is unique
// case-insensitively.
type ContactRecord struct {
	ID             int64     `json:"id"`
	Address        string    `json:"address"`
	DisplayName    string    `json:"display_name,omitempty"`
	Phone          string    `json:"phone,omitempty"`
	Title          string    `json:"title,omitempty"`
	OrganizationID *int64    `json:"organization_id,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// OrganizationRecord is a deduplicated organization. Name is unique
// case-insensitively.
type OrganizationRecord struct {
	ID      int64  `json:"id"`
	Name    string `json:"name"`
	Type    string `json:"type,omitempty"`
	Country string `json:"country,omitempty"`
}

// Notification severities.
const (
	NotifyInfo  = "info"
	NotifyWarn  = "warning"
	NotifyError = "error"
)

// Notification is one entry in the operator-facing feed. Failures in the
// ingestion path surface here rather than to webhook callers.
type Notification struct {
	ID        string    `json:"id"`
	Severity  string    `json:"severity"`
	Title     string    `json:"title"`
	Body      string    `json:"body,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
