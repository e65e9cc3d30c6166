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

// Package dedup provides fast-path duplicate detection using Redis keys
// with TTL. The authoritative idempotency guard is the processed-marker
// table; these filters exist so resubmitted webhooks and overlapping
// poll windows are skipped without a database round trip.
package dedup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// MessageTTL is how long we remember a seen external message id.
	MessageTTL = 24 * time.Hour

	// SubjectTTL is the anti-duplicate window for repeated subjects.
	// Forwarded or re-labeled copies arrive with fresh message ids, so
	// the poller also skips subjects processed within this window.
	SubjectTTL = 6 * time.Hour

	messagePrefix = "ingest:seen:"
	subjectPrefix = "ingest:subject:"
)

// Filter tracks recently seen message ids and subjects.
type Filter struct {
	rdb        *redis.Client
	messageTTL time.Duration
	subjectTTL time.Duration
}

// NewFilter creates a dedup filter backed by Redis.
func NewFilter(rdb *redis.Client) *Filter {
	return &Filter{
		rdb:        rdb,
		messageTTL: MessageTTL,
		subjectTTL: SubjectTTL,
	}
}

// SeenMessage reports whether the external message id completed the
// pipeline inside the message window. Read-only: intake must never mark,
// or an abandoned message could not re-enter until the TTL lapses.
func (f *Filter) SeenMessage(ctx context.Context, externalMessageID string) (bool, error) {
	n, err := f.rdb.Exists(ctx, messagePrefix+externalMessageID).Result()
	if err != nil {
		return false, fmt.Errorf("dedup message EXISTS: %w", err)
	}
	return n > 0, nil
}

// MarkMessage records a processed external message id. Called by the
// pipeline after the marker write, never at intake.
func (f *Filter) MarkMessage(ctx context.Context, externalMessageID string) error {
	key := messagePrefix + externalMessageID
	if err := f.rdb.Set(ctx, key, 1, f.messageTTL).Err(); err != nil {
		return fmt.Errorf("dedup message SET: %w", err)
	}
	return nil
}

// MarkSubject records that a message with this subject completed
// processing. Called by the pipeline after a successful run.
func (f *Filter) MarkSubject(ctx context.Context, subject string) error {
	if strings.TrimSpace(subject) == "" {
		return nil
	}
	key := subjectPrefix + subjectKey(subject)
	if err := f.rdb.Set(ctx, key, 1, f.subjectTTL).Err(); err != nil {
		return fmt.Errorf("dedup subject SET: %w", err)
	}
	return nil
}

// SubjectSeenRecently reports whether a message with the same normalised
// subject was processed inside the subject window.
func (f *Filter) SubjectSeenRecently(ctx context.Context, subject string) (bool, error) {
	if strings.TrimSpace(subject) == "" {
		return false, nil
	}
	key := subjectPrefix + subjectKey(subject)
	n, err := f.rdb.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("dedup subject EXISTS: %w", err)
	}
	return n > 0, nil
}

// subjectKey normalises a subject line and hashes it so arbitrary header
// content never lands in a Redis key.
func subjectKey(subject string) string {
	norm := strings.ToLower(strings.Join(strings.Fields(subject), " "))
	sum := sha256.Sum256([]byte(norm))
	return hex.EncodeToString(sum[:16])
}
