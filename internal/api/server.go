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

// Package api exposes the service's HTTP surface: webhook intake,
// queue stats, the review surface over extraction results, contact
// import, poller control, the notification feed, and health.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/meridian-crm/ingestion/internal/contacts"
	"github.com/meridian-crm/ingestion/internal/models"
	"github.com/meridian-crm/ingestion/internal/poller"
	"github.com/meridian-crm/ingestion/internal/queue"
	"github.com/meridian-crm/ingestion/internal/review"
)

const defaultListLimit = 100

// QueueStats reports ingestion queue counters.
type QueueStats interface {
	Stats() queue.Stats
}

// ReviewStore is the review surface over persisted extraction results.
type ReviewStore interface {
	List(ctx context.Context, limit int) ([]review.Summary, error)
	Get(ctx context.Context, id string) (*models.ExtractionResult, *models.ReviewRecord, error)
	UpdateReview(ctx context.Context, id, status, reviewedBy string) error
}

// ContactStore covers the resolver operations the API exposes.
type ContactStore interface {
	ImportExtracted(ctx context.Context, extracted []models.ExtractedContact) (contacts.ImportSummary, error)
	ScanCandidates(ctx context.Context) ([]contacts.Candidate, error)
}

// PollerControl is the poller's control surface.
type PollerControl interface {
	Start(ctx context.Context) poller.ControlResult
	Stop() poller.ControlResult
	Pause() poller.ControlResult
	Resume() poller.ControlResult
	TriggerNow(ctx context.Context) poller.ControlResult
	Status() poller.Status
}

// NotificationLister reads the operator notification feed.
type NotificationLister interface {
	List(ctx context.Context, limit int) ([]models.Notification, error)
}

// Config wires a Server.
type Config struct {
	Webhook       http.HandlerFunc
	Queue         QueueStats
	Reviews       ReviewStore
	Contacts      ContactStore
	Poller        PollerControl
	Notifications NotificationLister
	PingPostgres  func(ctx context.Context) error
	PingRedis     func(ctx context.Context) error
}

// Server routes HTTP requests to the pipeline components.
type Server struct {
	cfg Config
}

// NewServer creates the API server.
func NewServer(cfg Config) *Server {
	return &Server{cfg: cfg}
}

// Routes builds the request mux.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /webhook/inbound", s.cfg.Webhook)

	mux.HandleFunc("GET /stats", s.handleStats)

	mux.HandleFunc("GET /extractions", s.handleListExtractions)
	mux.HandleFunc("GET /extractions/{id}", s.handleGetExtraction)
	mux.HandleFunc("POST /extractions/{id}/review", s.handleReview)
	mux.HandleFunc("POST /extractions/{id}/import", s.handleImport)

	mux.HandleFunc("GET /contacts/duplicates", s.handleDuplicates)

	mux.HandleFunc("POST /poller/start", s.pollerAction(func(r *http.Request) poller.ControlResult {
		return s.cfg.Poller.Start(context.WithoutCancel(r.Context()))
	}))
	mux.HandleFunc("POST /poller/stop", s.pollerAction(func(*http.Request) poller.ControlResult {
		return s.cfg.Poller.Stop()
	}))
	mux.HandleFunc("POST /poller/pause", s.pollerAction(func(*http.Request) poller.ControlResult {
		return s.cfg.Poller.Pause()
	}))
	mux.HandleFunc("POST /poller/resume", s.pollerAction(func(*http.Request) poller.ControlResult {
		return s.cfg.Poller.Resume()
	}))
	mux.HandleFunc("POST /poller/trigger", s.pollerAction(func(r *http.Request) poller.ControlResult {
		return s.cfg.Poller.TriggerNow(r.Context())
	}))
	mux.HandleFunc("GET /poller/status", s.handlePollerStatus)

	mux.HandleFunc("GET /notifications", s.handleNotifications)

	mux.HandleFunc("GET /health", s.handleHealth)

	return mux
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.cfg.Queue.Stats())
}

func (s *Server) handleListExtractions(w http.ResponseWriter, r *http.Request) {
	summaries, err := s.cfg.Reviews.List(r.Context(), defaultListLimit)
	if err != nil {
		slog.Error("failed to list extractions", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"extractions": summaries})
}

func (s *Server) handleGetExtraction(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	result, record, err := s.cfg.Reviews.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, review.ErrNotFound) {
			http.Error(w, "extraction not found", http.StatusNotFound)
			return
		}
		slog.Error("failed to fetch extraction", "id", id, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"result": result,
		"review": record,
	})
}

func (s *Server) handleReview(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req struct {
		Status     string `json:"status"`
		ReviewedBy string `json:"reviewed_by"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if err := s.cfg.Reviews.UpdateReview(r.Context(), id, req.Status, req.ReviewedBy); err != nil {
		switch {
		case errors.Is(err, review.ErrNotFound):
			http.Error(w, "extraction not found", http.StatusNotFound)
		case errors.Is(err, review.ErrInvalidStatus):
			http.Error(w, err.Error(), http.StatusBadRequest)
		default:
			slog.Error("failed to update review", "id", id, "error", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
		}
		return
	}

	slog.Info("review updated", "id", id, "status", req.Status, "reviewed_by", req.ReviewedBy)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// handleImport imports contacts from an approved extraction result.
func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	result, record, err := s.cfg.Reviews.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, review.ErrNotFound) {
			http.Error(w, "extraction not found", http.StatusNotFound)
			return
		}
		slog.Error("failed to fetch extraction for import", "id", id, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	if record.Status != models.ReviewApproved {
		http.Error(w, "extraction is not approved", http.StatusConflict)
		return
	}

	summary, err := s.cfg.Contacts.ImportExtracted(r.Context(), result.Contacts)
	if err != nil {
		slog.Error("contact import failed", "id", id, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	slog.Info("contacts imported",
		"id", id,
		"created", summary.Created,
		"updated", summary.Updated,
		"skipped", summary.Skipped,
	)
	writeJSON(w, http.StatusOK, summary)
}

// handleDuplicates runs a full-scan duplicate report over the contact
// table at the stricter scan threshold.
func (s *Server) handleDuplicates(w http.ResponseWriter, r *http.Request) {
	cands, err := s.cfg.Contacts.ScanCandidates(r.Context())
	if err != nil {
		slog.Error("duplicate scan failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	groups := contacts.FindDuplicates(cands, contacts.ScanThreshold)
	writeJSON(w, http.StatusOK, map[string]any{"groups": groups})
}

func (s *Server) pollerAction(fn func(*http.Request) poller.ControlResult) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res := fn(r)
		// Control failures are part of the contract, not HTTP errors.
		writeJSON(w, http.StatusOK, res)
	}
}

func (s *Server) handlePollerStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.cfg.Poller.Status())
}

func (s *Server) handleNotifications(w http.ResponseWriter, r *http.Request) {
	items, err := s.cfg.Notifications.List(r.Context(), defaultListLimit)
	if err != nil {
		slog.Error("failed to list notifications", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"notifications": items})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.cfg.PingRedis(r.Context()); err != nil {
		http.Error(w, "redis unhealthy", http.StatusServiceUnavailable)
		return
	}
	if err := s.cfg.PingPostgres(r.Context()); err != nil {
		http.Error(w, "postgres unhealthy", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "healthy"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}
