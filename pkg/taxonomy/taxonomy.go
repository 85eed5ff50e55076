// Package taxonomy manages the self-referential tree of form types. Nodes
// are versioned through the lineage engine; tree edges reference the parent
// node's lineage root so they survive parent versioning. Cycle checks are an
// explicit walk over the current nodes, never an artifact of storage shape.
package taxonomy

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nexgensis/go-forms/pkg/lineage"
	"github.com/nexgensis/go-forms/pkg/model"
	"github.com/nexgensis/go-forms/pkg/store"
)

// Service exposes taxonomy operations over a Store.
type Service struct {
	st  store.Store
	now func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithClock replaces the service time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// New builds a taxonomy service.
func New(st store.Store, opts ...Option) *Service {
	s := &Service{st: st, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) engine(tx store.Tx) *lineage.Engine[*model.FormType] {
	return lineage.New(tx.FormTypes(), "form type",
		func(t *model.FormType) *model.FormType { return t.Clone() },
		lineage.WithClock[*model.FormType](s.now))
}

// CreateRoot creates a new taxonomy node as the first version of a fresh
// lineage. parentRoot, when given, must name a current node.
func (s *Service) CreateRoot(ctx context.Context, name, description string, parentRoot *uuid.UUID) (*model.FormType, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, model.Validation([]model.Issue{{Location: "name", Message: "name is required"}})
	}

	var created *model.FormType
	err := s.st.Update(ctx, func(tx store.Tx) error {
		if parentRoot != nil {
			if _, err := tx.FormTypes().CurrentByRoot(ctx, *parentRoot); err != nil {
				return err
			}
		}
		if existing, err := tx.FormTypes().CurrentAll(ctx); err == nil {
			for _, row := range existing {
				if strings.EqualFold(row.Name, name) {
					return model.Validation([]model.Issue{{
						Location: "name",
						Message:  "a form type with this name already exists",
					}})
				}
			}
		}
		ft := &model.FormType{
			Code:        model.NewCode(model.CodePrefixFormType),
			Name:        name,
			Description: description,
			ParentRoot:  parentRoot,
		}
		if err := s.engine(tx).CreateRoot(ctx, ft); err != nil {
			return err
		}
		created = ft
		return nil
	})
	return created, err
}

// Update creates a new version carrying changed name/description. Identity
// and lineage fields are never caller-mutable.
func (s *Service) Update(ctx context.Context, root uuid.UUID, expect int, name, description string) (*model.FormType, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, model.Validation([]model.Issue{{Location: "name", Message: "name is required"}})
	}

	var updated *model.FormType
	err := s.st.Update(ctx, func(tx store.Tx) error {
		next, err := s.engine(tx).CreateVersion(ctx, root, expect, func(ft *model.FormType) {
			ft.Name = name
			ft.Description = description
		})
		if err != nil {
			return err
		}
		updated = next
		return nil
	})
	return updated, err
}

// Reparent moves a node under newParent (nil detaches it to the top level).
// Moving a node under itself or any of its descendants is a ValidationError.
func (s *Service) Reparent(ctx context.Context, root uuid.UUID, expect int, newParent *uuid.UUID) (*model.FormType, error) {
	var updated *model.FormType
	err := s.st.Update(ctx, func(tx store.Tx) error {
		if newParent != nil {
			if *newParent == root {
				return model.Validation([]model.Issue{{
					Location: "parent",
					Message:  "a form type cannot be its own parent",
				}})
			}
			if _, err := tx.FormTypes().CurrentByRoot(ctx, *newParent); err != nil {
				return err
			}
			ok, err := s.isDescendant(ctx, tx, *newParent, root)
			if err != nil {
				return err
			}
			if ok {
				return model.Validation([]model.Issue{{
					Location: "parent",
					Message:  "cannot move a form type under its own descendant",
				}})
			}
		}
		next, err := s.engine(tx).CreateVersion(ctx, root, expect, func(ft *model.FormType) {
			ft.ParentRoot = newParent
		})
		if err != nil {
			return err
		}
		updated = next
		return nil
	})
	return updated, err
}

// isDescendant reports whether candidate sits below ancestor in the current
// tree, walking the parent chain with a visited guard.
func (s *Service) isDescendant(ctx context.Context, tx store.Tx, candidate, ancestor uuid.UUID) (bool, error) {
	seen := map[uuid.UUID]bool{}
	at := candidate
	for {
		if seen[at] {
			return false, nil
		}
		seen[at] = true
		node, err := tx.FormTypes().CurrentByRoot(ctx, at)
		if err != nil {
			if model.IsNotFound(err) {
				return false, nil
			}
			return false, err
		}
		if node.ParentRoot == nil {
			return false, nil
		}
		if *node.ParentRoot == ancestor {
			return true, nil
		}
		at = *node.ParentRoot
	}
}

// Delete soft-deletes the node by closing its current row. Nodes that still
// have current children, or that current forms reference, are protected.
func (s *Service) Delete(ctx context.Context, root uuid.UUID, expect int) error {
	return s.st.Update(ctx, func(tx store.Tx) error {
		children, err := s.childrenIn(ctx, tx, root)
		if err != nil {
			return err
		}
		if len(children) > 0 {
			return &model.IntegrityError{
				Entity: "form type",
				Ref:    root.String(),
				Reason: "cannot delete a form type that still has child types",
			}
		}
		forms, err := tx.Forms().CurrentAll(ctx)
		if err != nil {
			return err
		}
		for _, f := range forms {
			if f.TypeRoot == root {
				return &model.IntegrityError{
					Entity: "form type",
					Ref:    root.String(),
					Reason: "cannot delete a form type referenced by current forms",
				}
			}
		}
		return s.engine(tx).Retire(ctx, root, expect)
	})
}

// Get returns the current version of a node.
func (s *Service) Get(ctx context.Context, root uuid.UUID) (*model.FormType, error) {
	var out *model.FormType
	err := s.st.View(ctx, func(tx store.Tx) error {
		row, err := tx.FormTypes().CurrentByRoot(ctx, root)
		if err != nil {
			return err
		}
		out = row
		return nil
	})
	return out, err
}

// ByCode resolves a current node by its unique code.
func (s *Service) ByCode(ctx context.Context, code string) (*model.FormType, error) {
	var out *model.FormType
	err := s.st.View(ctx, func(tx store.Tx) error {
		row, err := tx.FormTypes().CurrentByCode(ctx, code)
		if err != nil {
			return err
		}
		out = row
		return nil
	})
	return out, err
}

// List returns every current node ordered by name.
func (s *Service) List(ctx context.Context) ([]*model.FormType, error) {
	var out []*model.FormType
	err := s.st.View(ctx, func(tx store.Tx) error {
		rows, err := tx.FormTypes().CurrentAll(ctx)
		if err != nil {
			return err
		}
		out = rows
		return nil
	})
	return out, err
}

// Children returns the current nodes whose parent is root.
func (s *Service) Children(ctx context.Context, root uuid.UUID) ([]*model.FormType, error) {
	var out []*model.FormType
	err := s.st.View(ctx, func(tx store.Tx) error {
		rows, err := s.childrenIn(ctx, tx, root)
		if err != nil {
			return err
		}
		out = rows
		return nil
	})
	return out, err
}

func (s *Service) childrenIn(ctx context.Context, tx store.Tx, root uuid.UUID) ([]*model.FormType, error) {
	rows, err := tx.FormTypes().CurrentAll(ctx)
	if err != nil {
		return nil, err
	}
	var out []*model.FormType
	for _, row := range rows {
		if row.ParentRoot != nil && *row.ParentRoot == root {
			out = append(out, row)
		}
	}
	return out, nil
}

// Lineage returns the full version history of a node, ascending by version.
func (s *Service) Lineage(ctx context.Context, root uuid.UUID) ([]*model.FormType, error) {
	var out []*model.FormType
	err := s.st.View(ctx, func(tx store.Tx) error {
		rows, err := tx.FormTypes().LineageByRoot(ctx, root)
		if err != nil {
			return err
		}
		out = rows
		return nil
	})
	return out, err
}
