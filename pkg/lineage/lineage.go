// Package lineage implements slowly-changing-dimension versioning for the
// form catalog. Every update is a new immutable row; the previous row's
// validity interval is closed in the same transaction. The engine operates on
// transaction-scoped repositories, so constructing one per store.Update call
// gives both writes all-or-nothing semantics.
package lineage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nexgensis/go-forms/pkg/model"
	"github.com/nexgensis/go-forms/pkg/store"
)

// Clock supplies the timestamps stamped on validity intervals.
type Clock func() time.Time

// Engine manages one entity's lineages. clone builds the successor row from
// the current one; the engine overwrites its revision metadata afterwards.
type Engine[T model.Versioned] struct {
	repo   store.RevisionRepo[T]
	clone  func(T) T
	entity string
	now    Clock
}

// Option configures an Engine.
type Option[T model.Versioned] func(*Engine[T])

// WithClock replaces the engine's time source, mainly for tests.
func WithClock[T model.Versioned](now Clock) Option[T] {
	return func(e *Engine[T]) {
		if now != nil {
			e.now = now
		}
	}
}

// New builds an engine over a transaction-scoped repository. entity names the
// managed type in errors ("form", "form type").
func New[T model.Versioned](repo store.RevisionRepo[T], entity string, clone func(T) T, opts ...Option[T]) *Engine[T] {
	e := &Engine[T]{
		repo:   repo,
		clone:  clone,
		entity: entity,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// CreateRoot opens a brand-new lineage: version 1, root pointing at itself,
// fresh validity interval. The row's non-revision attributes must already be
// populated by the caller.
func (e *Engine[T]) CreateRoot(ctx context.Context, row T) error {
	rev := row.Revision()
	if rev.ID == uuid.Nil {
		rev.ID = model.NewID()
	}
	rev.Root = rev.ID
	rev.Prev = nil
	rev.Version = 1
	rev.Start = e.now()
	rev.End = nil
	if err := e.repo.Insert(ctx, row); err != nil {
		return fmt.Errorf("lineage: insert root %s: %w", e.entity, err)
	}
	return nil
}

// CreateVersion appends the next version to a lineage. expect is the version
// the caller believes is current; a mismatch returns ConflictError and writes
// nothing. mutate edits the cloned successor before it is stamped and
// inserted; revision fields it touches are overwritten.
func (e *Engine[T]) CreateVersion(ctx context.Context, root uuid.UUID, expect int, mutate func(T)) (T, error) {
	var zero T

	current, err := e.repo.CurrentByRoot(ctx, root)
	if err != nil {
		return zero, err
	}
	cur := current.Revision()
	if cur.Version != expect {
		return zero, &model.ConflictError{Entity: e.entity, Root: root, Expected: expect, Actual: cur.Version}
	}

	next := e.clone(current)
	if mutate != nil {
		mutate(next)
	}

	now := e.now()
	prev := cur.ID
	rev := next.Revision()
	rev.ID = model.NewID()
	rev.Root = cur.Root
	rev.Prev = &prev
	rev.Version = cur.Version + 1
	rev.Start = now
	rev.End = nil

	if err := e.repo.SetEnd(ctx, cur.ID, now); err != nil {
		return zero, fmt.Errorf("lineage: close current %s: %w", e.entity, err)
	}
	if err := e.repo.Insert(ctx, next); err != nil {
		return zero, fmt.Errorf("lineage: insert %s version %d: %w", e.entity, rev.Version, err)
	}
	return next, nil
}

// Retire soft-deletes a lineage by closing its current row. The same
// optimistic check as CreateVersion applies.
func (e *Engine[T]) Retire(ctx context.Context, root uuid.UUID, expect int) error {
	current, err := e.repo.CurrentByRoot(ctx, root)
	if err != nil {
		return err
	}
	cur := current.Revision()
	if cur.Version != expect {
		return &model.ConflictError{Entity: e.entity, Root: root, Expected: expect, Actual: cur.Version}
	}
	if err := e.repo.SetEnd(ctx, cur.ID, e.now()); err != nil {
		return fmt.Errorf("lineage: retire %s: %w", e.entity, err)
	}
	return nil
}

// Current returns the lineage member with an open validity interval.
func (e *Engine[T]) Current(ctx context.Context, root uuid.UUID) (T, error) {
	return e.repo.CurrentByRoot(ctx, root)
}

// Lineage returns every version ascending by version number. The sequence is
// append-only; rows never change after creation apart from End stamping.
func (e *Engine[T]) Lineage(ctx context.Context, root uuid.UUID) ([]T, error) {
	return e.repo.LineageByRoot(ctx, root)
}
