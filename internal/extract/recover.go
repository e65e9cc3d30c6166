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
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

// MalformedError means the model response could not be recovered as
// JSON even after repair. The raw response is preserved for diagnosis.
type MalformedError struct {
	Raw string
	Err error
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("unrecoverable extraction response: %v", e.Err)
}

func (e *MalformedError) Unwrap() error { return e.Err }

var codeFenceRe = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\})\\s*```")

// Models wrap JSON in prose, code fences, or typographic quotes. Each
// recovery stage is tried in order; the first successful unmarshal wins.
//
//  1. Unmarshal the trimmed response as-is.
//  2. Extract a fenced ```json block.
//  3. Slice the outermost {...} span and normalise smart quotes.
//  4. Best-effort repair of single-quoted keys/values.
//  5. The jsonrepair library as final fallback.
func recoverPayload(response string) (*Payload, error) {
	candidates := []string{strings.TrimSpace(response)}

	if m := codeFenceRe.FindStringSubmatch(response); len(m) > 1 {
		candidates = append(candidates, m[1])
	}

	if span := outermostObject(response); span != "" {
		span = normalizeQuotes(span)
		candidates = append(candidates, span, repairSingleQuotes(span))
	}

	var lastErr error
	for _, c := range candidates {
		if c == "" || !strings.HasPrefix(c, "{") {
			continue
		}
		var p Payload
		if err := json.Unmarshal([]byte(c), &p); err == nil {
			return &p, nil
		} else {
			lastErr = err
		}
	}

	// Library fallback over the best span we found.
	span := outermostObject(response)
	if span == "" {
		span = response
	}
	repaired, err := jsonrepair.JSONRepair(normalizeQuotes(span))
	if err == nil {
		var p Payload
		if err := json.Unmarshal([]byte(repaired), &p); err == nil {
			return &p, nil
		} else {
			lastErr = err
		}
	} else if lastErr == nil {
		lastErr = err
	}

	return nil, &MalformedError{Raw: response, Err: lastErr}
}

// outermostObject returns the substring from the first '{' to its
// matching '}' — the widest balanced object span, ignoring braces
// inside string literals.
func outermostObject(s string) string {
	start := strings.Index(s, "{")
	if start < 0 {
		return ""
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if escaped {
			escaped = false
			continue
		}
		switch c {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '{':
			if !inString {
				depth++
			}
		case '}':
			if !inString {
				depth--
				if depth == 0 {
					return s[start : i+1]
				}
			}
		}
	}

	// Unbalanced; return the tail and let repair try.
	return s[start:]
}

var quoteReplacer = strings.NewReplacer(
	"\u201c", `"`, "\u201d", `"`,
	"\u2018", "'", "\u2019", "'",
)

func normalizeQuotes(s string) string {
	return quoteReplacer.Replace(s)
}

var (
	singleQuotedKeyRe = regexp.MustCompile(`'([^'\\]*)'\s*:`)
	singleQuotedValRe = regexp.MustCompile(`:\s*'([^'\\]*)'`)
)

// repairSingleQuotes rewrites 'key': 'value' pairs into valid JSON.
// Deliberately conservative: values containing quotes or escapes are
// left for the jsonrepair fallback.
func repairSingleQuotes(s string) string {
	s = singleQuotedKeyRe.ReplaceAllString(s, `"$1":`)
	s = singleQuotedValRe.ReplaceAllString(s, `: "$1"`)
	return s
}
