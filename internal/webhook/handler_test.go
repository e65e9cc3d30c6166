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

package webhook

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/meridian-crm/ingestion/internal/models"
)

// mockQueue records enqueued refs.
type mockQueue struct {
	mu   sync.Mutex
	refs []models.RawMessageRef
}

func (m *mockQueue) Enqueue(ref models.RawMessageRef) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refs = append(m.refs, ref)
}

func (m *mockQueue) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.refs)
}

// mockFilter answers the duplicate fast path.
type mockFilter struct {
	mu      sync.Mutex
	seen    bool
	lookups []string
}

func (m *mockFilter) SeenMessage(ctx context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lookups = append(m.lookups, id)
	return m.seen, nil
}

func receiptEnvelope(t *testing.T, spam, virus, objectKey string) string {
	t.Helper()

	inner := map[string]any{
		"notificationType": "Received",
		"mail": map[string]any{
			"messageId":   "msg-123",
			"timestamp":   "2026-03-01T10:00:00Z",
			"source":      "alice@example.org",
			"destination": []string{"intake@meridian.example"},
		},
		"receipt": map[string]any{
			"spamVerdict":  map[string]string{"status": spam},
			"virusVerdict": map[string]string{"status": virus},
			"spfVerdict":   map[string]string{"status": "PASS"},
			"dkimVerdict":  map[string]string{"status": "PASS"},
			"dmarcVerdict": map[string]string{"status": "PASS"},
			"action": map[string]string{
				"type":      "S3",
				"objectKey": objectKey,
			},
		},
	}
	innerJSON, err := json.Marshal(inner)
	if err != nil {
		t.Fatalf("marshal inner: %v", err)
	}

	outer := map[string]any{
		"Type":           TypeNotification,
		"MessageId":      "env-1",
		"TopicArn":       "arn:aws:sns:us-east-1:123456789012:inbound-mail",
		"Message":        string(innerJSON),
		"SigningCertURL": "https://sns.us-east-1.amazonaws.com/cert.pem",
	}
	outerJSON, err := json.Marshal(outer)
	if err != nil {
		t.Fatalf("marshal outer: %v", err)
	}
	return string(outerJSON)
}

func post(h *Handler, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhook/inbound", strings.NewReader(body))
	rr := httptest.NewRecorder()
	h.ServeInbound(rr, req)
	return rr
}

// TestNotification_Enqueues verifies a clean notification produces
// exactly one queue item with the receipt's storage key.
func TestNotification_Enqueues(t *testing.T) {
	q := &mockQueue{}
	h := NewHandler(q, &mockFilter{}, nil, "")

	rr := post(h, receiptEnvelope(t, "PASS", "PASS", "raw/msg-123"))

	if rr.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rr.Code, http.StatusOK)
	}
	if q.count() != 1 {
		t.Fatalf("enqueued = %d, want 1", q.count())
	}

	got := q.refs[0]
	if got.ExternalMessageID != "msg-123" {
		t.Errorf("message id = %q, want msg-123", got.ExternalMessageID)
	}
	if got.StorageKey != "raw/msg-123" {
		t.Errorf("storage key = %q, want raw/msg-123", got.StorageKey)
	}
	if got.SourceAddress != "alice@example.org" {
		t.Errorf("source = %q, want alice@example.org", got.SourceAddress)
	}
	if got.Verdicts.Spam != "PASS" {
		t.Errorf("spam verdict = %q, want PASS", got.Verdicts.Spam)
	}
}

// TestNotification_DerivedStorageKey verifies the fallback key when the
// receipt carries no action object key.
func TestNotification_DerivedStorageKey(t *testing.T) {
	q := &mockQueue{}
	h := NewHandler(q, &mockFilter{}, nil, "")

	post(h, receiptEnvelope(t, "PASS", "PASS", ""))

	if q.count() != 1 {
		t.Fatalf("enqueued = %d, want 1", q.count())
	}
	if got := q.refs[0].StorageKey; got != "inbound/msg-123" {
		t.Errorf("storage key = %q, want inbound/msg-123", got)
	}
}

// TestNotification_SecurityRejection verifies spam/virus failures are
// acknowledged but never enqueued.
func TestNotification_SecurityRejection(t *testing.T) {
	tests := []struct {
		name  string
		spam  string
		virus string
	}{
		{name: "spam fail", spam: "FAIL", virus: "PASS"},
		{name: "virus fail", spam: "PASS", virus: "FAIL"},
		{name: "both fail", spam: "FAIL", virus: "FAIL"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := &mockQueue{}
			h := NewHandler(q, &mockFilter{}, nil, "")

			rr := post(h, receiptEnvelope(t, tt.spam, tt.virus, "raw/msg-123"))

			if rr.Code != http.StatusOK {
				t.Errorf("status = %d, want %d", rr.Code, http.StatusOK)
			}
			if q.count() != 0 {
				t.Errorf("enqueued = %d, want 0", q.count())
			}
		})
	}
}

// TestNotification_DuplicateSkipped verifies the fast-path duplicate
// check suppresses the enqueue.
func TestNotification_DuplicateSkipped(t *testing.T) {
	q := &mockQueue{}
	filter := &mockFilter{seen: true}
	h := NewHandler(q, filter, nil, "")

	rr := post(h, receiptEnvelope(t, "PASS", "PASS", "raw/msg-123"))

	if rr.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rr.Code, http.StatusOK)
	}
	if q.count() != 0 {
		t.Errorf("enqueued = %d, want 0", q.count())
	}
	if len(filter.lookups) != 1 || filter.lookups[0] != "msg-123" {
		t.Errorf("lookups = %v, want [msg-123]", filter.lookups)
	}
}

// TestNotification_TopicVerification verifies envelopes for a foreign
// topic are acknowledged but dropped when a topic ARN is configured.
func TestNotification_TopicVerification(t *testing.T) {
	tests := []struct {
		name     string
		topicARN string
		want     int
	}{
		{name: "matching topic", topicARN: "arn:aws:sns:us-east-1:123456789012:inbound-mail", want: 1},
		{name: "foreign topic", topicARN: "arn:aws:sns:us-east-1:999999999999:other-topic", want: 0},
		{name: "unconfigured", topicARN: "", want: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := &mockQueue{}
			h := NewHandler(q, &mockFilter{}, nil, tt.topicARN)

			rr := post(h, receiptEnvelope(t, "PASS", "PASS", "raw/msg-123"))

			if rr.Code != http.StatusOK {
				t.Errorf("status = %d, want %d", rr.Code, http.StatusOK)
			}
			if q.count() != tt.want {
				t.Errorf("enqueued = %d, want %d", q.count(), tt.want)
			}
		})
	}
}

// TestNotification_UntrustedCertURL verifies notifications signed from
// outside the provider domain are dropped without error.
func TestNotification_UntrustedCertURL(t *testing.T) {
	q := &mockQueue{}
	h := NewHandler(q, &mockFilter{}, nil, "")

	body := receiptEnvelope(t, "PASS", "PASS", "raw/msg-123")
	body = strings.Replace(body,
		"https://sns.us-east-1.amazonaws.com/cert.pem",
		"https://sns.us-east-1.amazonaws.com.evil.example/cert.pem", 1)

	rr := post(h, body)

	if rr.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rr.Code, http.StatusOK)
	}
	if q.count() != 0 {
		t.Errorf("enqueued = %d, want 0", q.count())
	}
}

// TestGarbageBody_Acknowledged verifies unparseable payloads still get
// a 200 so the provider does not retry forever.
func TestGarbageBody_Acknowledged(t *testing.T) {
	q := &mockQueue{}
	h := NewHandler(q, &mockFilter{}, nil, "")

	rr := post(h, "this is not json")

	if rr.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rr.Code, http.StatusOK)
	}
	if q.count() != 0 {
		t.Errorf("enqueued = %d, want 0", q.count())
	}
}

// roundTripFunc lets tests stub the handshake HTTP client.
type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) {
	return f(r)
}

// TestSubscriptionConfirmation verifies the handshake GET and its
// failure mode.
func TestSubscriptionConfirmation(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		wantCode   int
		wantCalled bool
	}{
		{name: "handshake ok", status: http.StatusOK, wantCode: http.StatusOK, wantCalled: true},
		{name: "handshake rejected", status: http.StatusForbidden, wantCode: http.StatusInternalServerError, wantCalled: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			h := NewHandler(&mockQueue{}, nil, nil, "")
			h.httpClient = &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
				called = true
				return &http.Response{
					StatusCode: tt.status,
					Body:       http.NoBody,
				}, nil
			})}

			body := `{"Type":"SubscriptionConfirmation","TopicArn":"arn:test","SubscribeURL":"https://sns.us-east-1.amazonaws.com/confirm"}`
			rr := post(h, body)

			if rr.Code != tt.wantCode {
				t.Errorf("status = %d, want %d", rr.Code, tt.wantCode)
			}
			if called != tt.wantCalled {
				t.Errorf("handshake called = %v, want %v", called, tt.wantCalled)
			}
		})
	}
}

// TestSubscriptionConfirmation_RefusesForeignURL verifies the handshake
// never follows a URL outside the provider domain.
func TestSubscriptionConfirmation_RefusesForeignURL(t *testing.T) {
	h := NewHandler(&mockQueue{}, nil, nil, "")
	h.httpClient = &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
		t.Error("handshake GET should not have been made")
		return nil, nil
	})}

	body := `{"Type":"SubscriptionConfirmation","SubscribeURL":"https://attacker.example/confirm"}`
	rr := post(h, body)

	if rr.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", rr.Code, http.StatusInternalServerError)
	}
}

// TestValidProviderURL exercises the URL trust check.
func TestValidProviderURL(t *testing.T) {
	tests := []struct {
		url  string
		want bool
	}{
		{"https://sns.us-east-1.amazonaws.com/cert.pem", true},
		{"https://sns.eu-west-2.amazonaws.com/x", true},
		{"http://sns.us-east-1.amazonaws.com/cert.pem", false},
		{"https://sns.us-east-1.amazonaws.com.evil.example/cert.pem", false},
		{"https://evil.example/sns.us-east-1.amazonaws.com", false},
		{"https://s3.amazonaws.com/cert.pem", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			if got := validProviderURL(tt.url); got != tt.want {
				t.Errorf("validProviderURL(%q) = %v, want %v", tt.url, got, tt.want)
			}
		})
	}
}

// TestUnsubscribeConfirmation_Acknowledged covers the remaining
// envelope type.
func TestUnsubscribeConfirmation_Acknowledged(t *testing.T) {
	h := NewHandler(&mockQueue{}, nil, nil, "")
	rr := post(h, `{"Type":"UnsubscribeConfirmation","TopicArn":"arn:test"}`)

	if rr.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rr.Code, http.StatusOK)
	}
}
