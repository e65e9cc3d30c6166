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

package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/meridian-crm/ingestion/internal/models"
)

// mockNotifier records notifications.
type mockNotifier struct {
	mu    sync.Mutex
	calls []string
}

func (m *mockNotifier) Notify(ctx context.Context, severity, title, body string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, severity+": "+title)
}

func (m *mockNotifier) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func ref(id string) models.RawMessageRef {
	return models.RawMessageRef{ExternalMessageID: id, StorageKey: "inbound/" + id}
}

// TestFIFOOrder verifies items process in enqueue order.
func TestFIFOOrder(t *testing.T) {
	var mu sync.Mutex
	var order []string

	s := New(func(ctx context.Context, r models.RawMessageRef) error {
		mu.Lock()
		order = append(order, r.ExternalMessageID)
		mu.Unlock()
		return nil
	}, nil)
	s.yield = time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)

	s.Enqueue(ref("a"))
	s.Enqueue(ref("b"))
	s.Enqueue(ref("c"))

	waitFor(t, func() bool { return s.Stats().Processed == 3 })

	mu.Lock()
	defer mu.Unlock()
	want := []string{"a", "b", "c"}
	for i, id := range want {
		if order[i] != id {
			t.Errorf("order[%d] = %q, want %q", i, order[i], id)
		}
	}
}

// TestRetryThenSuccess verifies a transiently failing item is requeued
// and counted as processed once it succeeds.
func TestRetryThenSuccess(t *testing.T) {
	var mu sync.Mutex
	attempts := 0

	s := New(func(ctx context.Context, r models.RawMessageRef) error {
		mu.Lock()
		defer mu.Unlock()
		attempts++
		if attempts < 3 {
			return errors.New("transient")
		}
		return nil
	}, nil)
	s.yield = time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)

	s.Enqueue(ref("retry-me"))

	waitFor(t, func() bool { return s.Stats().Processed == 1 })

	mu.Lock()
	defer mu.Unlock()
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
	if got := s.Stats().Failed; got != 0 {
		t.Errorf("failed = %d, want 0", got)
	}
}

// TestAbandonAfterMaxAttempts verifies a persistently failing item is
// dropped after exactly MaxAttempts tries, with one failure count and
// one error notification.
func TestAbandonAfterMaxAttempts(t *testing.T) {
	var mu sync.Mutex
	attempts := 0
	notifier := &mockNotifier{}

	s := New(func(ctx context.Context, r models.RawMessageRef) error {
		mu.Lock()
		attempts++
		mu.Unlock()
		return errors.New("permanent")
	}, notifier)
	s.yield = time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)

	s.Enqueue(ref("doomed"))

	waitFor(t, func() bool { return s.Stats().Failed == 1 })

	// Give the worker a moment to prove there is no 4th attempt.
	time.Sleep(20 * time.Millisecond)

	mu.Lock()
	got := attempts
	mu.Unlock()
	if got != MaxAttempts {
		t.Errorf("attempts = %d, want %d", got, MaxAttempts)
	}
	if st := s.Stats(); st.Failed != 1 || st.Depth != 0 {
		t.Errorf("stats = %+v, want failed 1 and empty queue", st)
	}
	if n := notifier.count(); n != 1 {
		t.Errorf("notifications = %d, want 1", n)
	}
}

// TestPartiallyFailedItem verifies an item reconstructed with prior
// attempts is abandoned after its remaining budget.
func TestPartiallyFailedItem(t *testing.T) {
	var mu sync.Mutex
	attempts := 0

	s := New(func(ctx context.Context, r models.RawMessageRef) error {
		mu.Lock()
		attempts++
		mu.Unlock()
		return errors.New("still failing")
	}, nil)
	s.yield = time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)

	s.push(Item{Ref: ref("nearly-dead"), Attempts: MaxAttempts - 1})

	waitFor(t, func() bool { return s.Stats().Failed == 1 })

	mu.Lock()
	defer mu.Unlock()
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1", attempts)
	}
}

// TestStartIdempotent verifies a second Start does not spawn a second
// worker.
func TestStartIdempotent(t *testing.T) {
	var mu sync.Mutex
	calls := 0

	s := New(func(ctx context.Context, r models.RawMessageRef) error {
		mu.Lock()
		calls++
		mu.Unlock()
		return nil
	}, nil)
	s.yield = time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	s.Start(ctx)

	s.Enqueue(ref("once"))

	waitFor(t, func() bool { return s.Stats().Processed == 1 })
	time.Sleep(20 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if calls != 1 {
		t.Errorf("process calls = %d, want 1", calls)
	}
}

// TestStatsSuccessRate verifies the success rate calculation.
func TestStatsSuccessRate(t *testing.T) {
	s := New(nil, nil)

	if got := s.Stats().SuccessRate; got != 0 {
		t.Errorf("empty success rate = %v, want 0", got)
	}

	s.mu.Lock()
	s.processed = 3
	s.failed = 1
	s.mu.Unlock()

	if got := s.Stats().SuccessRate; got != 0.75 {
		t.Errorf("success rate = %v, want 0.75", got)
	}
}
