// Package model defines the catalog's entities and its error taxonomy.
// Versioned entities are immutable rows carrying a Revision: updates append a
// successor and close the predecessor's validity interval instead of
// mutating in place.
package model

import (
	"crypto/rand"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Revision is the version bookkeeping shared by FormType and Form rows. Root
// identifies the lineage (it equals the first version's ID), Prev the direct
// predecessor row. End is nil exactly while the row is the lineage's current
// version.
type Revision struct {
	ID      uuid.UUID  `json:"id"`
	Root    uuid.UUID  `json:"root"`
	Prev    *uuid.UUID `json:"prev,omitempty"`
	Version int        `json:"version"`
	Start   time.Time  `json:"start"`
	End     *time.Time `json:"end,omitempty"`
}

// Current reports whether the row's validity interval is still open.
func (r Revision) Current() bool { return r.End == nil }

// Versioned is implemented by entities managed by the lineage engine.
type Versioned interface {
	Revision() *Revision
}

// NewID returns a time-ordered identifier. UUIDv7 keeps index pages warm in
// the sqlite store; the random fallback only matters if the clock source
// fails.
func NewID() uuid.UUID {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New()
	}
	return id
}

// NewCode builds a stable human-facing code such as "FORM-9F2A41BC". Codes
// survive versioning; they identify the lineage, not a row.
func NewCode(prefix string) string {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		b = [4]byte(NewID().NodeID())
	}
	return fmt.Sprintf("%s-%s", prefix, strings.ToUpper(fmt.Sprintf("%02x%02x%02x%02x", b[0], b[1], b[2], b[3])))
}
