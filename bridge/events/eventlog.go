/*
Copyright (c) Edgeless Systems GmbH

SPDX-License-Identifier: BUSL-1.1
*/

// Package events implements a log of attestation events.
package events

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// DefaultMaxEvents is the number of events a log created with [NewLog] keeps.
const DefaultMaxEvents = 100

// AttestationEvent is an event that is logged for every handled request.
type AttestationEvent struct {
	SessionID   string `json:"sessionID"`
	Result      string `json:"result"`
	UserDataLen int    `json:"userDataLen"`
	NonceLen    int    `json:"nonceLen"`
	DocumentLen int    `json:"documentLen"`
}

// Event represents a single event in the event log.
type Event struct {
	Timestamp   time.Time         `json:"time"`
	Attestation *AttestationEvent `json:"attestation"`
}

// Log is a bounded log of attestation events. Older events are dropped first.
type Log struct {
	mut       sync.Mutex
	events    []Event
	oldest    int
	maxEvents int
}

// NewLog creates a new log keeping [DefaultMaxEvents] events.
func NewLog() *Log {
	return NewLogWithLimit(DefaultMaxEvents)
}

// NewLogWithLimit creates a new log keeping at most maxEvents events.
func NewLogWithLimit(maxEvents int) *Log {
	if maxEvents < 1 {
		maxEvents = 1
	}
	return &Log{maxEvents: maxEvents}
}

// Attestation adds an attestation event to the log.
func (l *Log) Attestation(event AttestationEvent) {
	l.mut.Lock()
	defer l.mut.Unlock()
	entry := Event{
		Timestamp:   time.Now(),
		Attestation: &event,
	}
	if len(l.events) < l.maxEvents {
		l.events = append(l.events, entry)
		return
	}
	// full: overwrite the oldest entry
	l.events[l.oldest] = entry
	l.oldest = (l.oldest + 1) % l.maxEvents
}

// Events returns a copy of the logged events, oldest first.
func (l *Log) Events() []Event {
	l.mut.Lock()
	defer l.mut.Unlock()
	events := make([]Event, 0, len(l.events))
	events = append(events, l.events[l.oldest:]...)
	return append(events, l.events[:l.oldest]...)
}

// Handler returns a http.HandlerFunc which writes the log as JSON array.
func (l *Log) Handler() http.HandlerFunc {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(l.Events())
	})
}
