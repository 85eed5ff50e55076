// Package store defines the transaction-scoped repository boundary the core
// components are written against. Implementations live in store/memory and
// store/sqlite; both guarantee that Update callbacks run with serializable
// isolation and that a returned error rolls every write back.
package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/nexgensis/go-forms/pkg/model"
)

// Store opens read-only and read-write transactions. Update is atomic: the
// callback's writes become visible all at once on a nil return, or not at all.
type Store interface {
	View(ctx context.Context, fn func(Tx) error) error
	Update(ctx context.Context, fn func(Tx) error) error
	Close() error
}

// Tx exposes the per-entity repositories scoped to one transaction.
type Tx interface {
	FormTypes() FormTypeRepo
	Forms() FormRepo
	Sections() SectionRepo
	Fields() FieldRepo
	DataTypes() DataTypeRepo
	FieldTypes() FieldTypeRepo
	Drafts() DraftRepo
}

// RevisionRepo is the update-as-insert contract for versioned entities.
// Rows are immutable once written; SetEnd is the single exception, stamping
// the validity end when a successor is created or the lineage is retired.
type RevisionRepo[T model.Versioned] interface {
	Insert(ctx context.Context, row T) error
	Get(ctx context.Context, id uuid.UUID) (T, error)
	CurrentByRoot(ctx context.Context, root uuid.UUID) (T, error)
	LineageByRoot(ctx context.Context, root uuid.UUID) ([]T, error)
	SetEnd(ctx context.Context, id uuid.UUID, end time.Time) error
}

// FormTypeRepo stores taxonomy nodes.
type FormTypeRepo interface {
	RevisionRepo[*model.FormType]
	CurrentByCode(ctx context.Context, code string) (*model.FormType, error)
	CurrentAll(ctx context.Context) ([]*model.FormType, error)
}

// FormRepo stores form versions.
type FormRepo interface {
	RevisionRepo[*model.Form]
	CurrentByTitle(ctx context.Context, title string) (*model.Form, error)
	CurrentByCode(ctx context.Context, code string) (*model.Form, error)
	CurrentAll(ctx context.Context) ([]*model.Form, error)
}

// SectionRepo stores sections owned by a form version. ByForm returns rows
// ascending by order.
type SectionRepo interface {
	Insert(ctx context.Context, section *model.Section) error
	Get(ctx context.Context, id uuid.UUID) (*model.Section, error)
	ByForm(ctx context.Context, formID uuid.UUID) ([]*model.Section, error)
	UpdateOrder(ctx context.Context, id uuid.UUID, order int) error
	Delete(ctx context.Context, id uuid.UUID) error
}

// FieldRepo stores fields owned by a section. BySection returns rows
// ascending by order regardless of nesting.
type FieldRepo interface {
	Insert(ctx context.Context, field *model.Field) error
	Get(ctx context.Context, id uuid.UUID) (*model.Field, error)
	BySection(ctx context.Context, sectionID uuid.UUID) ([]*model.Field, error)
	UpdateOrder(ctx context.Context, id uuid.UUID, order int) error
	SetParent(ctx context.Context, id uuid.UUID, parent *uuid.UUID) error
	Delete(ctx context.Context, id uuid.UUID) error
	CountByFieldType(ctx context.Context, fieldTypeID uuid.UUID) (int, error)
}

// DataTypeRepo stores the base semantic types.
type DataTypeRepo interface {
	Insert(ctx context.Context, dt *model.DataType) error
	Get(ctx context.Context, id uuid.UUID) (*model.DataType, error)
	ByName(ctx context.Context, name string) (*model.DataType, error)
	All(ctx context.Context) ([]*model.DataType, error)
}

// FieldTypeRepo stores reusable field type definitions.
type FieldTypeRepo interface {
	Insert(ctx context.Context, ft *model.FieldType) error
	Get(ctx context.Context, id uuid.UUID) (*model.FieldType, error)
	ByName(ctx context.Context, name string) (*model.FieldType, error)
	All(ctx context.Context) ([]*model.FieldType, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// DraftRepo stores staged form snapshots keyed by (owner, target).
type DraftRepo interface {
	Upsert(ctx context.Context, draft *model.Draft) error
	Get(ctx context.Context, id uuid.UUID) (*model.Draft, error)
	ByOwnerTarget(ctx context.Context, owner string, target *uuid.UUID) (*model.Draft, error)
	ByOwner(ctx context.Context, owner string) ([]*model.Draft, error)
	Delete(ctx context.Context, id uuid.UUID) error
}
