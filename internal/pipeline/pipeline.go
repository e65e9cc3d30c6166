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

// Package pipeline is the single worker's processing path: idempotency
// check, blob fetch, decode, header + AI extraction, merge, confidence
// routing, marker write, blob cleanup. Errors returned here feed the
// queue's retry policy; duplicates are a silent skip, not an error.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/meridian-crm/ingestion/internal/blobstore"
	"github.com/meridian-crm/ingestion/internal/extract"
	"github.com/meridian-crm/ingestion/internal/mailparse"
	"github.com/meridian-crm/ingestion/internal/models"
	"github.com/meridian-crm/ingestion/internal/notify"
	"github.com/meridian-crm/ingestion/internal/review"
)

// Extractor is the AI extraction step.
type Extractor interface {
	Extract(ctx context.Context, env *models.Envelope) (*extract.Payload, error)
}

// ResultSink persists an extraction result and routes its review.
type ResultSink interface {
	SaveAndRoute(ctx context.Context, r *models.ExtractionResult) (string, error)
}

// Markers is the idempotency guard contract.
type Markers interface {
	Exists(ctx context.Context, externalMessageID string) (bool, error)
	Write(ctx context.Context, m models.ProcessedMarker) error
}

// FastFilter is the Redis fast path. The pipeline marks both the
// external message id and the normalised subject only after a
// successful run, so intake and the poller never skip a message that
// has not actually completed.
type FastFilter interface {
	MarkMessage(ctx context.Context, externalMessageID string) error
	MarkSubject(ctx context.Context, subject string) error
}

// Pipeline wires the steps together.
type Pipeline struct {
	blobs        blobstore.Store
	markers      Markers
	filter       FastFilter
	extractor    Extractor
	results      ResultSink
	notifier     notify.Notifier
	adminAddress string
}

// Config holds the pipeline's dependencies.
type Config struct {
	Blobs        blobstore.Store
	Markers      Markers
	Filter       FastFilter
	Extractor    Extractor
	Results      ResultSink
	Notifier     notify.Notifier
	AdminAddress string
}

// New creates a pipeline.
func New(cfg Config) *Pipeline {
	return &Pipeline{
		blobs:        cfg.Blobs,
		markers:      cfg.Markers,
		filter:       cfg.Filter,
		extractor:    cfg.Extractor,
		results:      cfg.Results,
		notifier:     cfg.Notifier,
		adminAddress: cfg.AdminAddress,
	}
}

// Process handles one raw message reference end to end. A returned
// error means the queue should retry; nil means done (including
// duplicate skips).
func (p *Pipeline) Process(ctx context.Context, ref models.RawMessageRef) error {
	exists, err := p.markers.Exists(ctx, ref.ExternalMessageID)
	if err != nil {
		return fmt.Errorf("marker lookup: %w", err)
	}
	if exists {
		slog.Info("skipping already-processed message",
			"message_id", ref.ExternalMessageID,
		)
		return nil
	}

	raw, err := p.blobs.Fetch(ctx, ref.StorageKey)
	if err != nil {
		return fmt.Errorf("fetch raw message: %w", err)
	}

	env, err := mailparse.Decode(raw, p.adminAddress)
	if err != nil {
		return fmt.Errorf("decode message: %w", err)
	}

	headerContacts := extract.HeaderContacts(env)

	payload, aiErr := p.extractor.Extract(ctx, env)
	if aiErr != nil {
		// Header-only results still persist; the AI step degrading is
		// an extraction failure, not a pipeline failure.
		var malformed *extract.MalformedError
		if errors.As(aiErr, &malformed) {
			slog.Warn("extraction response unrecoverable, using header contacts only",
				"message_id", ref.ExternalMessageID,
				"error", aiErr,
			)
		} else {
			slog.Error("extraction service call failed, using header contacts only",
				"message_id", ref.ExternalMessageID,
				"error", aiErr,
			)
			if p.notifier != nil {
				p.notifier.Notify(ctx, models.NotifyError, "extraction service failure",
					fmt.Sprintf("message %s: %v", ref.ExternalMessageID, aiErr))
			}
		}
		payload = nil
	}

	merged := extract.MergeContacts(headerContacts, payload)
	confidence := review.AggregateConfidence(payload, merged)

	result := buildResult(ref, env, payload, merged, confidence)
	if aiErr != nil {
		result.Flags = append(result.Flags, "header-only")
	}

	status, err := p.results.SaveAndRoute(ctx, result)
	if err != nil {
		return fmt.Errorf("persist extraction result: %w", err)
	}

	if err := p.markers.Write(ctx, models.ProcessedMarker{
		StorageKey:         ref.StorageKey,
		ExternalMessageID:  ref.ExternalMessageID,
		ExtractionResultID: result.ID,
		ProcessedAt:        time.Now().UTC(),
	}); err != nil {
		return fmt.Errorf("write processed marker: %w", err)
	}

	if p.filter != nil {
		if err := p.filter.MarkMessage(ctx, ref.ExternalMessageID); err != nil {
			slog.Warn("failed to record message window", "error", err)
		}
		if err := p.filter.MarkSubject(ctx, env.Subject); err != nil {
			slog.Warn("failed to record subject window", "error", err)
		}
	}

	if err := p.blobs.Delete(ctx, ref.StorageKey); err != nil {
		slog.Warn("failed to delete raw message blob",
			"key", ref.StorageKey,
			"error", err,
		)
	}

	slog.Info("message processed",
		"message_id", ref.ExternalMessageID,
		"confidence", confidence,
		"contacts", len(merged),
		"review", status,
	)
	return nil
}

// buildResult flattens the typed payload into the persisted result.
func buildResult(ref models.RawMessageRef, env *models.Envelope, payload *extract.Payload, merged []models.ExtractedContact, confidence int) *models.ExtractionResult {
	r := &models.ExtractionResult{
		ID:                uuid.New().String(),
		ExternalMessageID: ref.ExternalMessageID,
		Subject:           env.Subject,
		Contacts:          merged,
		OverallConfidence: confidence,
		AttachmentCount:   len(env.Attachments),
		CreatedAt:         time.Now().UTC(),
	}

	if payload == nil {
		return r
	}

	for _, rel := range payload.Relationships {
		r.Relationships = append(r.Relationships,
			fmt.Sprintf("%s -> %s: %s", rel.From, rel.To, rel.Description))
	}
	if payload.Engagement != nil {
		r.EngagementSignal = payload.Engagement.Level
	}
	if payload.Fundraising != nil {
		r.FundraisingSignal = strings.TrimSpace(
			payload.Fundraising.Indicator + " " + payload.Fundraising.Amount)
	}
	for _, item := range payload.ActionItems {
		desc := item.Description
		if item.Owner != "" {
			desc += " (" + item.Owner + ")"
		}
		r.ActionItems = append(r.ActionItems, desc)
	}
	if payload.Scheduling != nil {
		r.SchedulingSignal = strings.TrimSpace(
			payload.Scheduling.Description + " " + payload.Scheduling.When)
	}
	r.Topics = payload.Topics
	if sp := payload.StakeholderProfile; sp != nil {
		parts := []string{}
		if sp.Role != "" {
			parts = append(parts, sp.Role)
		}
		if len(sp.Interests) > 0 {
			parts = append(parts, strings.Join(sp.Interests, ", "))
		}
		if sp.Notes != "" {
			parts = append(parts, sp.Notes)
		}
		r.StakeholderNotes = strings.Join(parts, "; ")
	}
	if payload.Metadata != nil {
		for _, dv := range payload.Metadata.DocumentVersions {
			hint := dv.Filename
			if dv.Version != "" {
				hint += " " + dv.Version
			}
			if dv.Date != "" {
				hint += " (" + dv.Date + ")"
			}
			r.DocumentVersions = append(r.DocumentVersions, strings.TrimSpace(hint))
		}
	}
	r.Summary = payload.Summary
	r.NextSteps = payload.NextSteps
	r.Flags = payload.Flags

	return r
}
