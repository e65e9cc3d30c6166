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
	"errors"
	"testing"
)

// TestRecoverPayload exercises the recovery stages over the response
// shapes models actually produce.
func TestRecoverPayload(t *testing.T) {
	tests := []struct {
		name     string
		response string
	}{
		{
			name:     "clean JSON",
			response: `{"summary":"quarterly update","contacts":[{"name":"Eve","email":"eve@x.example","confidence":80}]}`,
		},
		{
			name: "fenced block",
			response: "Here is the analysis:\n```json\n" +
				`{"summary":"quarterly update","contacts":[{"name":"Eve","email":"eve@x.example","confidence":80}]}` +
				"\n```\nLet me know if you need more.",
		},
		{
			name: "prose wrapped",
			response: "Sure! The extracted data is " +
				`{"summary":"quarterly update","contacts":[{"name":"Eve","email":"eve@x.example","confidence":80}]}` +
				" — hope that helps.",
		},
		{
			name:     "smart quotes",
			response: "{\u201csummary\u201d:\u201cquarterly update\u201d,\u201ccontacts\u201d:[{\u201cname\u201d:\u201cEve\u201d,\u201cemail\u201d:\u201ceve@x.example\u201d,\u201cconfidence\u201d:80}]}",
		},
		{
			name:     "single quotes",
			response: `{'summary': 'quarterly update', 'contacts': [{'name': 'Eve', 'email': 'eve@x.example', 'confidence': 80}]}`,
		},
		{
			name:     "trailing comma",
			response: `{"summary":"quarterly update","contacts":[{"name":"Eve","email":"eve@x.example","confidence":80},],}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := recoverPayload(tt.response)
			if err != nil {
				t.Fatalf("recoverPayload: %v", err)
			}
			if p.Summary != "quarterly update" {
				t.Errorf("summary = %q", p.Summary)
			}
			if len(p.Contacts) != 1 || p.Contacts[0].Address != "eve@x.example" {
				t.Errorf("contacts = %+v", p.Contacts)
			}
			if p.Contacts[0].Confidence != 80 {
				t.Errorf("contact confidence = %d, want 80", p.Contacts[0].Confidence)
			}
		})
	}
}

// TestRecoverPayload_Unrecoverable verifies non-JSON responses surface
// a MalformedError carrying the raw text.
func TestRecoverPayload_Unrecoverable(t *testing.T) {
	raw := "I am sorry, I cannot analyze this message."

	_, err := recoverPayload(raw)
	if err == nil {
		t.Fatal("expected error, got none")
	}

	var malformed *MalformedError
	if !errors.As(err, &malformed) {
		t.Fatalf("error type = %T, want *MalformedError", err)
	}
	if malformed.Raw != raw {
		t.Errorf("raw = %q, want original response", malformed.Raw)
	}
}

// TestOutermostObject verifies the balanced-brace scan.
func TestOutermostObject(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "plain", in: `{"a":1}`, want: `{"a":1}`},
		{name: "nested", in: `x {"a":{"b":2}} y`, want: `{"a":{"b":2}}`},
		{name: "brace in string", in: `{"a":"}"}`, want: `{"a":"}"}`},
		{name: "escaped quote", in: `{"a":"\"}"}`, want: `{"a":"\"}"}`},
		{name: "no object", in: "plain text", want: ""},
		{name: "unbalanced tail", in: `note {"a":1`, want: `{"a":1`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := outermostObject(tt.in); got != tt.want {
				t.Errorf("outermostObject(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
