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

// Package queue implements the in-process ingestion queue: a
// single-consumer FIFO with bounded-retry requeueing. Webhook intake
// and the poller only enqueue; all decode/extract/resolve work
// serialises through the one worker, so the process never runs two
// extraction pipelines against the same rate-limited services.
package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/meridian-crm/ingestion/internal/models"
	"github.com/meridian-crm/ingestion/internal/notify"
)

const (
	// MaxAttempts is the abandonment threshold: an item failing this
	// many times is dropped and an error notification raised.
	MaxAttempts = 3

	// dequeueYield separates dequeues so a long failure streak cannot
	// saturate downstream APIs.
	dequeueYield = 100 * time.Millisecond
)

// ProcessFunc handles one raw message reference.
type ProcessFunc func(ctx context.Context, ref models.RawMessageRef) error

// Item is one queued message with its own retry state, so an
// already-failed item can be reconstructed directly.
type Item struct {
	Ref      models.RawMessageRef
	Attempts int
}

// Stats is a point-in-time snapshot of the queue counters.
type Stats struct {
	Depth       int     `json:"depth"`
	InFlight    int     `json:"in_flight"`
	Processed   uint64  `json:"processed"`
	Failed      uint64  `json:"failed"`
	SuccessRate float64 `json:"success_rate"`
}

// Service owns the queue state and its single worker. Construct at
// process start; the worker parks while the queue is empty and wakes on
// the next enqueue.
type Service struct {
	process  ProcessFunc
	notifier notify.Notifier
	yield    time.Duration

	mu        sync.Mutex
	items     []Item
	inFlight  bool
	processed uint64
	failed    uint64
	running   bool

	// wake carries at most one pending signal; the drain loop empties
	// the queue regardless of how many enqueues coalesced into it.
	wake chan struct{}
}

// New creates a stopped queue service.
func New(process ProcessFunc, notifier notify.Notifier) *Service {
	return &Service{
		process:  process,
		notifier: notifier,
		yield:    dequeueYield,
		wake:     make(chan struct{}, 1),
	}
}

// Start launches the worker goroutine. Starting an already-running
// service is a no-op. The worker exits when ctx is cancelled.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	slog.Info("ingestion queue worker starting")
	go s.run(ctx)
}

// Enqueue appends a fresh item at the tail and wakes the worker.
func (s *Service) Enqueue(ref models.RawMessageRef) {
	s.push(Item{Ref: ref})
}

func (s *Service) push(it Item) {
	s.mu.Lock()
	s.items = append(s.items, it)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Service) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			s.mu.Lock()
			s.running = false
			s.mu.Unlock()
			slog.Info("ingestion queue worker stopped")
			return
		case <-s.wake:
			s.drain(ctx)
		}
	}
}

// drain processes items one at a time until the queue is empty.
func (s *Service) drain(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		s.mu.Lock()
		if len(s.items) == 0 {
			s.mu.Unlock()
			return
		}
		it := s.items[0]
		s.items = s.items[1:]
		s.inFlight = true
		s.mu.Unlock()

		err := s.process(ctx, it.Ref)

		s.mu.Lock()
		s.inFlight = false
		if err == nil {
			s.processed++
			s.mu.Unlock()
		} else {
			it.Attempts++
			if it.Attempts < MaxAttempts {
				s.items = append(s.items, it)
				s.mu.Unlock()
				slog.Warn("processing failed, requeued",
					"message_id", it.Ref.ExternalMessageID,
					"attempts", it.Attempts,
					"error", err,
				)
			} else {
				s.failed++
				s.mu.Unlock()
				slog.Error("abandoning message after repeated failures",
					"message_id", it.Ref.ExternalMessageID,
					"attempts", it.Attempts,
					"error", err,
				)
				if s.notifier != nil {
					s.notifier.Notify(ctx, models.NotifyError,
						"message processing failed",
						fmt.Sprintf("message %s abandoned after %d attempts: %v",
							it.Ref.ExternalMessageID, it.Attempts, err))
				}
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(s.yield):
		}
	}
}

// Stats returns a snapshot of the counters.
func (s *Service) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Stats{
		Depth:     len(s.items),
		Processed: s.processed,
		Failed:    s.failed,
	}
	if s.inFlight {
		st.InFlight = 1
	}
	if total := s.processed + s.failed; total > 0 {
		st.SuccessRate = float64(s.processed) / float64(total)
	}
	return st
}
