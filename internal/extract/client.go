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

package extract

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/meridian-crm/ingestion/internal/config"
	"github.com/meridian-crm/ingestion/internal/models"
)

const (
	// Backoff policy for the extraction call. The sleeps block the
	// single pipeline worker; that is deliberate backpressure against
	// the service's rate limit.
	maxAttempts = 5
	baseDelay   = 400 * time.Millisecond
)

// Client calls the external text-understanding service and recovers a
// structured Payload from its response.
type Client struct {
	llm          llms.Model
	maxBodyChars int
	orgContext   string

	// sleep is swapped out in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewClient builds a client over the configured model.
func NewClient(cfg config.ExtractionConfig) (*Client, error) {
	llm, err := openai.New(
		openai.WithToken(cfg.APIKey),
		openai.WithModel(cfg.Model),
	)
	if err != nil {
		return nil, fmt.Errorf("init extraction model: %w", err)
	}
	return &Client{
		llm:          llm,
		maxBodyChars: cfg.MaxBodyChars,
		orgContext:   cfg.OrgContext,
		sleep:        sleepCtx,
	}, nil
}

// Extract sends the envelope to the model and parses the structured
// response. Network and rate-limit errors retry with exponential
// backoff; other call errors fail immediately. The prompt is built once
// and never mutated across retries.
func (c *Client) Extract(ctx context.Context, env *models.Envelope) (*Payload, error) {
	prompt := c.buildPrompt(env)

	var response string
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			delay := backoffDelay(attempt)
			slog.Info("retrying extraction call",
				"attempt", attempt+1,
				"delay", delay,
			)
			if err := c.sleep(ctx, delay); err != nil {
				return nil, err
			}
		}

		response, lastErr = llms.GenerateFromSinglePrompt(ctx, c.llm, prompt,
			llms.WithTemperature(0.1),
		)
		if lastErr == nil {
			return recoverPayload(response)
		}
		if !isRetryable(lastErr) {
			return nil, fmt.Errorf("extraction call: %w", lastErr)
		}
	}

	return nil, fmt.Errorf("extraction call failed after %d attempts: %w", maxAttempts, lastErr)
}

// backoffDelay returns the wait before retry number attempt (1-based):
// base doubling each time, with up to 10% jitter either way.
func backoffDelay(attempt int) time.Duration {
	d := float64(baseDelay) * float64(int(1)<<(attempt-1))
	jitter := d * 0.1 * (rand.Float64()*2 - 1)
	return time.Duration(d + jitter)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// isRetryable classifies network and rate-limit errors. Anything else
// (auth failures, invalid requests) will fail identically on retry.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"rate limit",
		"too many requests",
		"429",
		"500",
		"502",
		"503",
		"504",
		"timeout",
		"connection refused",
		"connection reset",
		"temporary failure",
		"service unavailable",
		"no such host",
		"broken pipe",
		"eof",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

const promptSchema = `Respond with ONE JSON object only, using exactly this schema:
{
  "contacts": [{"name": "", "email": "", "organization": "", "confidence": 0}],
  "relationships": [{"from": "", "to": "", "description": ""}],
  "engagement": {"level": "", "confidence": 0},
  "fundraising": {"indicator": "", "amount": ""},
  "action_items": [{"description": "", "owner": "", "due_hint": ""}],
  "scheduling": {"description": "", "when": ""},
  "topics": [""],
  "stakeholder_profile": {"role": "", "interests": [""], "notes": ""},
  "metadata": {"document_versions": [{"filename": "", "version": "", "date": ""}], "confidence": 0},
  "summary": "",
  "recommended_next_steps": [""],
  "flags": [""]
}
Confidence values are integers from 0 to 100. Omit any section you have
no evidence for. Derive document_versions from attachment filenames and
dates where they carry version hints.`

// buildPrompt renders the fixed organizational context plus the
// envelope, with the body truncated to the character budget.
func (c *Client) buildPrompt(env *models.Envelope) string {
	var b strings.Builder

	if c.orgContext != "" {
		b.WriteString(c.orgContext)
		b.WriteString("\n\n")
	}

	b.WriteString("Analyze the following email.\n\n")
	fmt.Fprintf(&b, "Subject: %s\n", env.Subject)
	fmt.Fprintf(&b, "From: %s <%s>\n", env.FromDisplayName, env.FromAddress)
	fmt.Fprintf(&b, "To: %s\n", strings.Join(env.ToAddresses, ", "))
	if len(env.CcAddresses) > 0 {
		fmt.Fprintf(&b, "Cc: %s\n", strings.Join(env.CcAddresses, ", "))
	}
	if !env.Date.IsZero() {
		fmt.Fprintf(&b, "Date: %s\n", env.Date.Format(time.RFC1123Z))
	}
	if len(env.Attachments) > 0 {
		b.WriteString("Attachments:\n")
		for _, a := range env.Attachments {
			fmt.Fprintf(&b, "  - %s (%s, %d bytes)\n", a.Filename, a.ContentType, a.SizeBytes)
		}
	}

	body := env.BodyText
	if c.maxBodyChars > 0 && len(body) > c.maxBodyChars {
		cut := c.maxBodyChars
		// Back off to a rune boundary so the cut never splits a
		// multi-byte character.
		for cut > 0 && !utf8.RuneStart(body[cut]) {
			cut--
		}
		body = body[:cut]
	}
	b.WriteString("\n")
	b.WriteString(body)
	b.WriteString("\n\n")
	b.WriteString(promptSchema)

	return b.String()
}
