// Copyright (C) 2025 Plotforge (dev@plotforge.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package engine

import (
	"sync"

	"github.com/plotforge/gridstudio/services/studio/datatypes"
)

// Broadcaster fans ordered progress events out to any number of live
// observers per experiment.
//
// Guarantees:
//   - Events for one experiment are delivered to every subscriber in
//     publish order; nothing is reordered or dropped for a subscriber
//     that existed when publish was called.
//   - A late subscriber first receives the snapshot current as of its
//     subscription, then subsequent events, with no gap: snapshot reads
//     and publishes are serialized per experiment.
//   - Publishing to a gone observer is a no-op, never an error.
//
// Delivery is at-least-once: a snapshot may already reflect an event that
// is also delivered live. Event counters are absolute, so observers
// converge regardless.
type Broadcaster struct {
	mu     sync.Mutex
	topics map[string]*topic
}

type topic struct {
	mu       sync.Mutex
	subs     map[*Subscriber]struct{}
	snapshot datatypes.Snapshot
	hasSnap  bool
}

// NewBroadcaster creates an empty broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{topics: make(map[string]*topic)}
}

func (b *Broadcaster) topicFor(experimentID string) *topic {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, ok := b.topics[experimentID]
	if !ok {
		t = &topic{subs: make(map[*Subscriber]struct{})}
		b.topics[experimentID] = t
	}
	return t
}

func (b *Broadcaster) lookup(experimentID string) (*topic, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, ok := b.topics[experimentID]
	return t, ok
}

// maybePrune drops a topic nobody is watching once it holds no state a
// future observer would miss: either the run is terminal (the store has
// the authoritative snapshot) or nothing was ever published. Without
// pruning every experiment ever executed or observed would pin a topic
// for the life of the process.
func (b *Broadcaster) maybePrune(experimentID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, ok := b.topics[experimentID]
	if !ok {
		return
	}
	t.mu.Lock()
	prune := len(t.subs) == 0 && (!t.hasSnap || t.snapshot.Status.Terminal())
	t.mu.Unlock()
	if prune {
		delete(b.topics, experimentID)
	}
}

// Publish atomically records the post-event snapshot and delivers the
// event to every current subscriber, preserving submission order.
func (b *Broadcaster) Publish(experimentID string, snap datatypes.Snapshot, ev datatypes.Event) {
	t := b.topicFor(experimentID)
	t.mu.Lock()
	t.snapshot = snap
	t.hasSnap = true
	for sub := range t.subs {
		sub.enqueue(ev)
	}
	t.mu.Unlock()

	b.maybePrune(experimentID)
}

// Subscribe registers a new observer for an experiment. It returns the
// latest published snapshot (or fallback when nothing was published yet)
// and the live subscription. The returned snapshot reflects every event
// published before any event the subscription will deliver.
func (b *Broadcaster) Subscribe(experimentID string, fallback datatypes.Snapshot) (datatypes.Snapshot, *Subscriber) {
	t := b.topicFor(experimentID)
	t.mu.Lock()
	defer t.mu.Unlock()

	sub := newSubscriber()
	t.subs[sub] = struct{}{}

	snap := fallback
	if t.hasSnap {
		snap = t.snapshot
	}
	return snap, sub
}

// Unsubscribe removes the observer and releases its queue. The last
// observer leaving a finished experiment takes the topic with it. Safe
// to call more than once, and safe while a publish is in flight.
func (b *Broadcaster) Unsubscribe(experimentID string, sub *Subscriber) {
	if t, ok := b.lookup(experimentID); ok {
		t.mu.Lock()
		delete(t.subs, sub)
		t.mu.Unlock()
		b.maybePrune(experimentID)
	}
	sub.close()
}

// SubscriberCount returns the number of live observers for an experiment.
func (b *Broadcaster) SubscriberCount(experimentID string) int {
	t, ok := b.lookup(experimentID)
	if !ok {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.subs)
}

// =============================================================================
// Subscriber
// =============================================================================

// Subscriber is one observer's ordered event stream. Events arrive on
// Events(); the channel closes after Unsubscribe once the queue drains.
//
// The queue is unbounded so a slow consumer never stalls the execution
// loop or other observers.
type Subscriber struct {
	mu     sync.Mutex
	cond   *sync.Cond
	queue  []datatypes.Event
	closed bool

	out  chan datatypes.Event
	done chan struct{}
}

func newSubscriber() *Subscriber {
	s := &Subscriber{
		out:  make(chan datatypes.Event),
		done: make(chan struct{}),
	}
	s.cond = sync.NewCond(&s.mu)
	go s.pump()
	return s
}

// Events returns the live event stream in publish order.
func (s *Subscriber) Events() <-chan datatypes.Event {
	return s.out
}

func (s *Subscriber) enqueue(ev datatypes.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.queue = append(s.queue, ev)
	s.cond.Signal()
}

func (s *Subscriber) close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.done)
	s.cond.Signal()
	s.mu.Unlock()
}

func (s *Subscriber) pump() {
	for {
		s.mu.Lock()
		for len(s.queue) == 0 && !s.closed {
			s.cond.Wait()
		}
		if len(s.queue) == 0 && s.closed {
			s.mu.Unlock()
			close(s.out)
			return
		}
		ev := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()

		select {
		case s.out <- ev:
		case <-s.done:
			close(s.out)
			return
		}
	}
}
