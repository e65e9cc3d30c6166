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

// Package poller pulls messages from an alternate mailbox on a
// schedule. It is an ingestion source only: each new message is staged
// to blob storage and enqueued, never processed inline, so all heavy
// work still serializes through the single queue worker.
package poller

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/meridian-crm/ingestion/internal/models"
)

// Markers answers whether a message id has already completed the
// pipeline.
type Markers interface {
	Exists(ctx context.Context, externalMessageID string) (bool, error)
}

// SubjectFilter is the recent-subject duplicate heuristic. Forwarded
// and re-labeled copies arrive with fresh ids, so the marker check
// alone cannot catch them.
type SubjectFilter interface {
	SubjectSeenRecently(ctx context.Context, subject string) (bool, error)
}

// Stager writes raw message bytes to blob storage.
type Stager interface {
	Put(ctx context.Context, key string, data []byte) error
}

// Enqueuer hands staged messages to the ingestion queue.
type Enqueuer interface {
	Enqueue(ref models.RawMessageRef)
}

// ControlResult is the structured outcome of a poller control call.
type ControlResult struct {
	OK      bool   `json:"ok"`
	Message string `json:"message"`
}

// Status is a point-in-time snapshot of the poller.
type Status struct {
	Running    bool          `json:"running"`
	Paused     bool          `json:"paused"`
	Interval   time.Duration `json:"interval"`
	LastPollAt time.Time     `json:"last_poll_at"`
	LastError  string        `json:"last_error,omitempty"`
	Enqueued   int64         `json:"enqueued"`
	Skipped    int64         `json:"skipped"`
}

// Poller periodically drains the alternate mailbox into the queue.
type Poller struct {
	mailbox  Mailbox
	markers  Markers
	subjects SubjectFilter
	blobs    Stager
	queue    Enqueuer
	interval time.Duration
	markRead bool

	mu         sync.Mutex
	running    bool
	paused     bool
	cancel     context.CancelFunc
	done       chan struct{}
	lastPollAt time.Time
	lastError  string
	enqueued   int64
	skipped    int64
}

// Config wires a Poller.
type Config struct {
	Mailbox  Mailbox
	Markers  Markers
	Subjects SubjectFilter
	Blobs    Stager
	Queue    Enqueuer
	Interval time.Duration
	MarkRead bool
}

// New creates a stopped poller.
func New(cfg Config) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	return &Poller{
		mailbox:  cfg.Mailbox,
		markers:  cfg.Markers,
		subjects: cfg.Subjects,
		blobs:    cfg.Blobs,
		queue:    cfg.Queue,
		interval: cfg.Interval,
		markRead: cfg.MarkRead,
	}
}

// Start begins the polling schedule. Starting a running poller is
// reported as a failure, not an error.
func (p *Poller) Start(ctx context.Context) ControlResult {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return ControlResult{OK: false, Message: "poller already running"}
	}

	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	p.running = true
	p.paused = false

	go p.run(runCtx, p.done)

	slog.Info("poller started", "interval", p.interval)
	return ControlResult{OK: true, Message: "poller started"}
}

// Stop cancels the schedule and waits for the current cycle to finish.
func (p *Poller) Stop() ControlResult {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return ControlResult{OK: false, Message: "poller not running"}
	}
	cancel := p.cancel
	done := p.done
	p.running = false
	p.paused = false
	p.mu.Unlock()

	cancel()
	<-done

	slog.Info("poller stopped")
	return ControlResult{OK: true, Message: "poller stopped"}
}

// Pause suspends polling without disturbing the ticker schedule.
func (p *Poller) Pause() ControlResult {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running {
		return ControlResult{OK: false, Message: "poller not running"}
	}
	if p.paused {
		return ControlResult{OK: false, Message: "poller already paused"}
	}
	p.paused = true
	slog.Info("poller paused")
	return ControlResult{OK: true, Message: "poller paused"}
}

// Resume lifts a pause.
func (p *Poller) Resume() ControlResult {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running {
		return ControlResult{OK: false, Message: "poller not running"}
	}
	if !p.paused {
		return ControlResult{OK: false, Message: "poller not paused"}
	}
	p.paused = false
	slog.Info("poller resumed")
	return ControlResult{OK: true, Message: "poller resumed"}
}

// TriggerNow runs one poll cycle outside the schedule. It works even
// when the poller is paused or stopped.
func (p *Poller) TriggerNow(ctx context.Context) ControlResult {
	n, err := p.pollOnce(ctx)
	if err != nil {
		return ControlResult{OK: false, Message: fmt.Sprintf("poll failed: %v", err)}
	}
	return ControlResult{OK: true, Message: fmt.Sprintf("poll complete, %d enqueued", n)}
}

// Status returns a snapshot of the poller state.
func (p *Poller) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Status{
		Running:    p.running,
		Paused:     p.paused,
		Interval:   p.interval,
		LastPollAt: p.lastPollAt,
		LastError:  p.lastError,
		Enqueued:   p.enqueued,
		Skipped:    p.skipped,
	}
}

func (p *Poller) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	// One immediate cycle so a restart catches up without waiting a
	// full interval.
	if _, err := p.pollOnce(ctx); err != nil {
		slog.Error("poll cycle failed", "error", err)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.mu.Lock()
			paused := p.paused
			p.mu.Unlock()
			if paused {
				continue
			}
			if _, err := p.pollOnce(ctx); err != nil {
				slog.Error("poll cycle failed", "error", err)
			}
		}
	}
}

// pollOnce lists the mailbox and stages every message that passes the
// duplicate checks. Returns the number of messages enqueued.
func (p *Poller) pollOnce(ctx context.Context) (int, error) {
	metas, err := p.mailbox.ListUnprocessed(ctx)

	p.mu.Lock()
	p.lastPollAt = time.Now().UTC()
	if err != nil {
		p.lastError = err.Error()
	} else {
		p.lastError = ""
	}
	p.mu.Unlock()

	if err != nil {
		return 0, fmt.Errorf("list mailbox: %w", err)
	}

	enqueued := 0
	for _, meta := range metas {
		processed, err := p.markers.Exists(ctx, meta.ID)
		if err != nil {
			slog.Warn("marker lookup failed", "id", meta.ID, "error", err)
			continue
		}
		if processed {
			p.countSkip()
			continue
		}

		if meta.Subject != "" {
			seen, err := p.subjects.SubjectSeenRecently(ctx, meta.Subject)
			if err != nil {
				slog.Warn("subject window lookup failed", "id", meta.ID, "error", err)
			} else if seen {
				slog.Info("skipping recently seen subject",
					"id", meta.ID,
					"subject", meta.Subject,
				)
				p.countSkip()
				continue
			}
		}

		raw, err := p.mailbox.FetchRaw(ctx, meta.ID)
		if err != nil {
			slog.Error("failed to fetch message", "id", meta.ID, "error", err)
			continue
		}

		key := "gmail/" + meta.ID
		if err := p.blobs.Put(ctx, key, raw); err != nil {
			slog.Error("failed to stage message", "id", meta.ID, "error", err)
			continue
		}

		p.queue.Enqueue(models.RawMessageRef{
			StorageKey:        key,
			ExternalMessageID: meta.ID,
			ReceivedAt:        time.Now().UTC(),
		})
		enqueued++

		p.mu.Lock()
		p.enqueued++
		p.mu.Unlock()

		if p.markRead {
			if err := p.mailbox.MarkRead(ctx, meta.ID); err != nil {
				slog.Warn("failed to mark message read", "id", meta.ID, "error", err)
			}
		}
	}

	slog.Info("poll cycle complete", "listed", len(metas), "enqueued", enqueued)
	return enqueued, nil
}

func (p *Poller) countSkip() {
	p.mu.Lock()
	p.skipped++
	p.mu.Unlock()
}
