// Copyright 2024 The GNS Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may not
// use this file except in compliance with the License. You may obtain a copy of
// the License at
//
// 	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS, WITHOUT
// WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied. See the
// License for the specific language governing permissions and limitations under
// the License.

// Package tasks implements the retransmitting protocol-task scheduler of
// spec.md §4.3: a lightweight table of outstanding-acknowledgement tasks,
// keyed by string, idempotent on spawn (a second Spawn for a live key
// attaches as a notifiee instead of starting a duplicate), and explicitly
// cancelled by whatever event satisfies them. Tasks never perform durable
// writes themselves (spec.md §4.3); they only retransmit a message built
// from already-durable state that the caller's Send closure captured when
// the task was spawned, so a Cancel racing with an in-flight Send is harmless.
package tasks

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// Send is invoked once per restart interval until the task is cancelled. It
// should be side-effecting (e.g. transmit a StopEpoch) and must not block
// indefinitely — outbound sends should themselves carry a short per-attempt
// timeout via ctx.
type Send func(ctx context.Context)

// Scheduler owns the table of live retransmission tasks described in
// spec.md §4.3 and §5 ("task creation, lookup, and removal are atomic with
// respect to one another").
type Scheduler struct {
	log *zap.Logger
	cap time.Duration

	mu    sync.Mutex
	tasks map[string]*task
}

type task struct {
	cancel context.CancelFunc
	done    chan struct{}
	notify  []chan struct{}
}

// New builds a Scheduler whose restart interval is capped at cap (spec.md
// §6 reconTimeout).
func New(log *zap.Logger, cap time.Duration) *Scheduler {
	if cap <= 0 {
		cap = 30 * time.Second
	}
	return &Scheduler{
		log:   log,
		cap:   cap,
		tasks: make(map[string]*task),
	}
}

// Spawn starts a retransmitting task under key, calling send on a
// bounded-exponential backoff (cenkalti/backoff/v4, capped at the
// Scheduler's reconTimeout) until Cancel(key) is called. If a task under key
// is already running, Spawn attaches a notifiee channel (closed when the
// task is eventually cancelled) instead of starting a second goroutine —
// the "idempotent on spawn" requirement of spec.md §4.3 — and returns that
// channel so the caller can await completion without double-submitting the
// underlying protocol action.
func (s *Scheduler) Spawn(ctx context.Context, key string, send Send) <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.tasks[key]; ok {
		ch := make(chan struct{})
		t.notify = append(t.notify, ch)
		return ch
	}

	taskCtx, cancel := context.WithCancel(ctx)
	t := &task{cancel: cancel, done: make(chan struct{})}
	s.tasks[key] = t

	go s.run(taskCtx, key, t, send)
	return t.done
}

func (s *Scheduler) run(ctx context.Context, key string, t *task, send Send) {
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = 0 // spec.md §4.1: "no timeout-to-abort"
	b.MaxInterval = s.cap

	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			send(ctx)
			timer.Reset(b.NextBackOff())
		}
	}
}

// Cancel stops the task under key, if any, and notifies every attached
// notifiee. It is idempotent: cancelling an already-cancelled or
// never-started key is a no-op.
func (s *Scheduler) Cancel(key string) {
	s.mu.Lock()
	t, ok := s.tasks[key]
	if ok {
		delete(s.tasks, key)
	}
	s.mu.Unlock()
	if !ok {
		return
	}
	t.cancel()
	close(t.done)
	for _, ch := range t.notify {
		close(ch)
	}
	if s.log != nil {
		s.log.Debug("task cancelled", zap.String("key", key))
	}
}

// Live reports whether a task is currently registered under key. Intended
// for tests and introspection, not for synchronization decisions (a
// concurrent Cancel can invalidate the answer immediately).
func (s *Scheduler) Live(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.tasks[key]
	return ok
}

// CancelAll stops every live task, e.g. on node shutdown.
func (s *Scheduler) CancelAll() {
	s.mu.Lock()
	keys := make([]string, 0, len(s.tasks))
	for k := range s.tasks {
		keys = append(keys, k)
	}
	s.mu.Unlock()
	for _, k := range keys {
		s.Cancel(k)
	}
}
