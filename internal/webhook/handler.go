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

// Package webhook handles the inbound push-notification endpoint. The
// relay POSTs a signed envelope for every received message; the handler
// validates it, applies the security verdicts, and enqueues a
// RawMessageRef. It always acknowledges with 200: internal failures
// are logged and surfaced on the notification feed, never to the
// caller, to avoid upstream retry storms.
package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/meridian-crm/ingestion/internal/models"
	"github.com/meridian-crm/ingestion/internal/notify"
)

// Push envelope types sent by the notification provider.
const (
	TypeSubscriptionConfirmation = "SubscriptionConfirmation"
	TypeNotification             = "Notification"
	TypeUnsubscribeConfirmation  = "UnsubscribeConfirmation"
)

// pushEnvelope is the outer signed notification payload.
type pushEnvelope struct {
	Type           string `json:"Type"`
	MessageID      string `json:"MessageId"`
	TopicArn       string `json:"TopicArn"`
	Message        string `json:"Message"`
	SubscribeURL   string `json:"SubscribeURL"`
	SigningCertURL string `json:"SigningCertURL"`
	Timestamp      string `json:"Timestamp"`
}

// receiptNotification is the inner message describing a received email.
type receiptNotification struct {
	NotificationType string `json:"notificationType"`
	Mail             struct {
		MessageID   string   `json:"messageId"`
		Timestamp   string   `json:"timestamp"`
		Source      string   `json:"source"`
		Destination []string `json:"destination"`
	} `json:"mail"`
	Receipt struct {
		SpamVerdict  verdict `json:"spamVerdict"`
		VirusVerdict verdict `json:"virusVerdict"`
		SPFVerdict   verdict `json:"spfVerdict"`
		DKIMVerdict  verdict `json:"dkimVerdict"`
		DMARCVerdict verdict `json:"dmarcVerdict"`
		Action       struct {
			Type       string `json:"type"`
			BucketName string `json:"bucketName"`
			ObjectKey  string `json:"objectKey"`
		} `json:"action"`
	} `json:"receipt"`
}

type verdict struct {
	Status string `json:"status"`
}

// Enqueuer is the queue contract the handler needs.
type Enqueuer interface {
	Enqueue(ref models.RawMessageRef)
}

// MessageFilter is the fast-path duplicate check. Read-only at intake:
// only the pipeline marks a message, after it completes, so an
// abandoned message can be resubmitted.
type MessageFilter interface {
	SeenMessage(ctx context.Context, externalMessageID string) (bool, error)
}

// Handler processes push notifications from the inbound relay.
type Handler struct {
	queue      Enqueuer
	filter     MessageFilter
	notifier   notify.Notifier
	topicARN   string
	httpClient *http.Client
}

// NewHandler creates a push-notification handler. A non-empty topicARN
// restricts the handler to envelopes from that topic.
func NewHandler(queue Enqueuer, filter MessageFilter, notifier notify.Notifier, topicARN string) *Handler {
	return &Handler{
		queue:      queue,
		filter:     filter,
		notifier:   notifier,
		topicARN:   topicARN,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// ServeInbound handles POST /webhook/inbound.
func (h *Handler) ServeInbound(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		slog.Error("failed to read webhook body", "error", err)
		writeStatus(w, "ok")
		return
	}

	var env pushEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		slog.Info("webhook body not valid JSON, acknowledging",
			"body_len", len(body),
		)
		writeStatus(w, "ok")
		return
	}

	if h.topicARN != "" && env.TopicArn != "" && env.TopicArn != h.topicARN {
		slog.Warn("dropping envelope for foreign topic", "topic", env.TopicArn)
		writeStatus(w, "ok")
		return
	}

	switch env.Type {
	case TypeSubscriptionConfirmation:
		// The handshake GET is the one path allowed to surface a 500:
		// without confirmation the subscription never activates.
		if err := h.confirmSubscription(r.Context(), env.SubscribeURL); err != nil {
			slog.Error("subscription confirmation failed", "error", err)
			http.Error(w, "confirmation failed", http.StatusInternalServerError)
			return
		}
		slog.Info("subscription confirmed", "topic", env.TopicArn)
		writeStatus(w, "confirmed")

	case TypeUnsubscribeConfirmation:
		slog.Info("unsubscribe confirmation received", "topic", env.TopicArn)
		writeStatus(w, "ok")

	case TypeNotification:
		h.handleNotification(r.Context(), &env)
		writeStatus(w, "ok")

	default:
		slog.Info("unknown push envelope type", "type", env.Type)
		writeStatus(w, "ok")
	}
}

func writeStatus(w http.ResponseWriter, status string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":%q}`, status)
}

// confirmSubscription performs the provider's confirmation handshake.
func (h *Handler) confirmSubscription(ctx context.Context, subscribeURL string) error {
	if !validProviderURL(subscribeURL) {
		return fmt.Errorf("refusing confirmation handshake to %q", subscribeURL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, subscribeURL, nil)
	if err != nil {
		return fmt.Errorf("build handshake request: %w", err)
	}
	resp, err := h.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("handshake GET: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("handshake returned HTTP %d", resp.StatusCode)
	}
	return nil
}

// handleNotification validates one received-message notification and
// enqueues it. All failures end in a plain return: the caller has
// already been promised a 200.
func (h *Handler) handleNotification(ctx context.Context, env *pushEnvelope) {
	if !validProviderURL(env.SigningCertURL) {
		slog.Warn("rejecting notification with untrusted signing certificate",
			"cert_url", env.SigningCertURL,
		)
		return
	}

	var rcpt receiptNotification
	if err := json.Unmarshal([]byte(env.Message), &rcpt); err != nil {
		slog.Error("failed to parse receipt notification", "error", err)
		if h.notifier != nil {
			h.notifier.Notify(ctx, models.NotifyError, "unreadable webhook payload",
				fmt.Sprintf("notification %s: %v", env.MessageID, err))
		}
		return
	}

	verdicts := models.SecurityVerdicts{
		Spam:  rcpt.Receipt.SpamVerdict.Status,
		Virus: rcpt.Receipt.VirusVerdict.Status,
		SPF:   rcpt.Receipt.SPFVerdict.Status,
		DKIM:  rcpt.Receipt.DKIMVerdict.Status,
		DMARC: rcpt.Receipt.DMARCVerdict.Status,
	}

	// Security rejection: acknowledged, never processed, never retried.
	if verdicts.Spam == models.VerdictFail || verdicts.Virus == models.VerdictFail {
		slog.Info("rejecting message failing security scan",
			"message_id", rcpt.Mail.MessageID,
			"spam", verdicts.Spam,
			"virus", verdicts.Virus,
		)
		return
	}

	storageKey := rcpt.Receipt.Action.ObjectKey
	if storageKey == "" {
		// No explicit action descriptor; the relay writes under a key
		// derived from the message id.
		storageKey = "inbound/" + rcpt.Mail.MessageID
	}

	if h.filter != nil {
		seen, err := h.filter.SeenMessage(ctx, rcpt.Mail.MessageID)
		if err != nil {
			slog.Warn("dedup check failed, proceeding", "error", err)
		} else if seen {
			slog.Info("skipping duplicate notification",
				"message_id", rcpt.Mail.MessageID,
			)
			return
		}
	}

	receivedAt := time.Now().UTC()
	if ts, err := time.Parse(time.RFC3339, rcpt.Mail.Timestamp); err == nil {
		receivedAt = ts
	}

	h.queue.Enqueue(models.RawMessageRef{
		StorageKey:           storageKey,
		ExternalMessageID:    rcpt.Mail.MessageID,
		ReceivedAt:           receivedAt,
		SourceAddress:        rcpt.Mail.Source,
		DestinationAddresses: rcpt.Mail.Destination,
		Verdicts:             verdicts,
	})

	slog.Info("enqueued inbound message",
		"message_id", rcpt.Mail.MessageID,
		"storage_key", storageKey,
	)
}

// validProviderURL checks that a handshake or signing-certificate URL
// points at the provider's own domain over HTTPS.
func validProviderURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme != "https" {
		return false
	}
	host := strings.ToLower(u.Hostname())
	return strings.HasPrefix(host, "sns.") && strings.HasSuffix(host, ".amazonaws.com")
}
