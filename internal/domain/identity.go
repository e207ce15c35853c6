// Package domain provides the core identity and event types shared by every
// Bosun component: task IDs, timestamps, and the event envelope that flows
// through the event bus.
package domain

import (
	"github.com/google/uuid"
)

// TaskID is the opaque kanban task identifier. Casing is preserved and
// comparisons are byte-exact, matching whatever the backing kanban adapter
// returns.
type TaskID string

func (id TaskID) String() string { return string(id) }

func (id TaskID) IsZero() bool { return id == "" }

// AttemptID identifies a single agent-runner invocation, one-to-one with a
// slot allocation.
type AttemptID string

func (id AttemptID) String() string { return string(id) }

// HolderID identifies the process that currently holds a claim or slot set.
// Generated once per process at startup.
type HolderID string

// NewHolderID returns a fresh random process identity.
func NewHolderID() HolderID {
	return HolderID(uuid.NewString())
}

// NewAttemptID returns a fresh random attempt identity.
func NewAttemptID() AttemptID {
	return AttemptID(uuid.NewString())
}
