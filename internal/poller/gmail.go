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

package poller

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/meridian-crm/ingestion/internal/config"
)

// MessageMeta identifies a mailbox message eligible for ingestion.
type MessageMeta struct {
	ID      string
	Subject string
}

// Mailbox is the external mailbox contract the poller depends on.
type Mailbox interface {
	// ListUnprocessed returns unread messages under the configured
	// label, up to the page size.
	ListUnprocessed(ctx context.Context) ([]MessageMeta, error)
	// FetchRaw returns the full RFC 822 bytes of a message.
	FetchRaw(ctx context.Context, id string) ([]byte, error)
	// MarkRead clears the unread flag on a message.
	MarkRead(ctx context.Context, id string) error
}

// GmailMailbox implements Mailbox against the Gmail API. All calls go
// through a circuit breaker so a degraded upstream fails fast instead
// of stalling every poll cycle.
type GmailMailbox struct {
	svc      *gmail.Service
	label    string
	pageSize int64
	cb       *gobreaker.CircuitBreaker
}

// NewGmailMailbox builds a Gmail client from an offline refresh token.
func NewGmailMailbox(ctx context.Context, cfg config.MailboxConfig) (*GmailMailbox, error) {
	oc := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Endpoint:     google.Endpoint,
		Scopes:       []string{gmail.GmailModifyScope},
	}
	ts := oc.TokenSource(ctx, &oauth2.Token{RefreshToken: cfg.RefreshToken})

	svc, err := gmail.NewService(ctx, option.WithTokenSource(ts))
	if err != nil {
		return nil, fmt.Errorf("create gmail service: %w", err)
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:     "gmail-api",
		Interval: 60 * time.Second,
		Timeout:  30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			// Client-side errors fail the call but not the breaker.
			_, ok := err.(*clientError)
			return ok
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("circuit breaker state change",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
	})

	return &GmailMailbox{
		svc:      svc,
		label:    cfg.Label,
		pageSize: int64(cfg.PageSize),
		cb:       cb,
	}, nil
}

// ListUnprocessed implements Mailbox.
func (m *GmailMailbox) ListUnprocessed(ctx context.Context) ([]MessageMeta, error) {
	var resp *gmail.ListMessagesResponse
	err := m.execute(func() error {
		var apiErr error
		resp, apiErr = m.svc.Users.Messages.List("me").
			LabelIds(m.label).
			Q("is:unread").
			MaxResults(m.pageSize).
			Context(ctx).Do()
		return apiErr
	})
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}

	metas := make([]MessageMeta, 0, len(resp.Messages))
	for _, ref := range resp.Messages {
		var msg *gmail.Message
		err := m.execute(func() error {
			var apiErr error
			msg, apiErr = m.svc.Users.Messages.Get("me", ref.Id).
				Format("metadata").
				MetadataHeaders("Subject").
				Context(ctx).Do()
			return apiErr
		})
		if err != nil {
			slog.Warn("failed to fetch message metadata", "id", ref.Id, "error", err)
			continue
		}

		meta := MessageMeta{ID: msg.Id}
		if msg.Payload != nil {
			for _, h := range msg.Payload.Headers {
				if h.Name == "Subject" {
					meta.Subject = h.Value
					break
				}
			}
		}
		metas = append(metas, meta)
	}
	return metas, nil
}

// FetchRaw implements Mailbox.
func (m *GmailMailbox) FetchRaw(ctx context.Context, id string) ([]byte, error) {
	var msg *gmail.Message
	err := m.execute(func() error {
		var apiErr error
		msg, apiErr = m.svc.Users.Messages.Get("me", id).
			Format("raw").
			Context(ctx).Do()
		return apiErr
	})
	if err != nil {
		return nil, fmt.Errorf("get raw message %s: %w", id, err)
	}

	raw, err := base64.URLEncoding.DecodeString(msg.Raw)
	if err != nil {
		// Gmail sometimes omits padding.
		raw, err = base64.RawURLEncoding.DecodeString(msg.Raw)
		if err != nil {
			return nil, fmt.Errorf("decode raw message %s: %w", id, err)
		}
	}
	return raw, nil
}

// MarkRead implements Mailbox.
func (m *GmailMailbox) MarkRead(ctx context.Context, id string) error {
	err := m.execute(func() error {
		_, apiErr := m.svc.Users.Messages.Modify("me", id, &gmail.ModifyMessageRequest{
			RemoveLabelIds: []string{"UNREAD"},
		}).Context(ctx).Do()
		return apiErr
	})
	if err != nil {
		return fmt.Errorf("mark read %s: %w", id, err)
	}
	return nil
}

// execute runs one API call through the circuit breaker. Client-side
// errors (auth, not-found) must not trip the breaker.
func (m *GmailMailbox) execute(fn func() error) error {
	_, err := m.cb.Execute(func() (interface{}, error) {
		if callErr := fn(); callErr != nil {
			if apiErr, ok := callErr.(*googleapi.Error); ok {
				switch apiErr.Code {
				case 400, 401, 403, 404:
					return nil, &clientError{err: callErr}
				}
			}
			return nil, callErr
		}
		return nil, nil
	})
	if ce, ok := err.(*clientError); ok {
		return ce.err
	}
	return err
}

type clientError struct {
	err error
}

func (e *clientError) Error() string {
	return e.err.Error()
}
