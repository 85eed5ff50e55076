// Package draft holds mutable working copies of form definitions. A draft is
// the only mutable object in the catalog: it can be saved repeatedly with
// minimal checking, and becomes a real form version only through Promote,
// which applies the full validation and versioning rules in one transaction.
package draft

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nexgensis/go-forms/pkg/lineage"
	"github.com/nexgensis/go-forms/pkg/model"
	"github.com/nexgensis/go-forms/pkg/registry"
	"github.com/nexgensis/go-forms/pkg/store"
	"github.com/nexgensis/go-forms/pkg/structure"
)

// Service manages draft lifecycle over a store.
type Service struct {
	st       store.Store
	maxDepth int
	now      lineage.Clock
}

// Option configures a Service.
type Option func(*Service)

// WithClock replaces the time source.
func WithClock(now lineage.Clock) Option {
	return func(s *Service) { s.now = now }
}

// WithMaxDepth overrides the field nesting bound applied at promotion.
func WithMaxDepth(depth int) Option {
	return func(s *Service) { s.maxDepth = depth }
}

// New builds a draft service.
func New(st store.Store, opts ...Option) *Service {
	s := &Service{st: st, maxDepth: structure.DefaultMaxDepth, now: func() time.Time { return time.Now().UTC() }}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Save upserts the draft identified by (owner, target). Only shape checks
// run here; unknown field types, bad rules and structural conflicts are
// tolerated until promotion. When target names a form lineage, the current
// version number is recorded so promotion can detect concurrent edits that
// happened while the draft sat idle.
func (s *Service) Save(ctx context.Context, owner string, target *uuid.UUID, content model.FormSnapshot) (*model.Draft, error) {
	owner = strings.TrimSpace(owner)
	if owner == "" {
		return nil, model.Validation([]model.Issue{{Location: "owner", Message: "draft owner is required"}})
	}
	var issues []model.Issue
	if depth := content.Depth(); depth > s.maxDepth {
		issues = append(issues, model.Issue{
			Location: "sections",
			Message:  "field nesting exceeds the maximum depth",
		})
	}
	issues = append(issues, negativeOrders(content.Sections)...)
	if err := model.Validation(issues); err != nil {
		return nil, err
	}

	var saved *model.Draft
	err := s.st.Update(ctx, func(tx store.Tx) error {
		base := 0
		if target != nil {
			cur, err := tx.Forms().CurrentByRoot(ctx, *target)
			if err != nil {
				return err
			}
			base = cur.Rev.Version
		}

		row, err := tx.Drafts().ByOwnerTarget(ctx, owner, target)
		if err != nil {
			if !model.IsNotFound(err) {
				return err
			}
			row = &model.Draft{ID: model.NewID(), Owner: owner, TargetRoot: target, BaseVersion: base}
		}
		row.Content = content.Clone()
		row.UpdatedAt = s.now()
		if err := tx.Drafts().Upsert(ctx, row); err != nil {
			return err
		}
		saved = row.Clone()
		return nil
	})
	return saved, err
}

// negativeOrders flags negative section and field orders. Drafts otherwise
// tolerate incomplete content, but a negative order can never become valid.
func negativeOrders(sections []model.SectionSnapshot) []model.Issue {
	var issues []model.Issue
	var walk func(prefix string, fields []model.FieldSnapshot)
	walk = func(prefix string, fields []model.FieldSnapshot) {
		for i, f := range fields {
			at := fmt.Sprintf("%s.fields[%d]", prefix, i)
			if f.Order < 0 {
				issues = append(issues, model.Issue{Location: at + ".order", Message: "order must not be negative"})
			}
			walk(at, f.Fields)
		}
	}
	for i, sec := range sections {
		at := fmt.Sprintf("sections[%d]", i)
		if sec.Order < 0 {
			issues = append(issues, model.Issue{Location: at + ".order", Message: "order must not be negative"})
		}
		walk(at, sec.Fields)
	}
	return issues
}

// Get returns the draft for (owner, target).
func (s *Service) Get(ctx context.Context, owner string, target *uuid.UUID) (*model.Draft, error) {
	var out *model.Draft
	err := s.st.View(ctx, func(tx store.Tx) error {
		row, err := tx.Drafts().ByOwnerTarget(ctx, owner, target)
		if err != nil {
			return err
		}
		out = row
		return nil
	})
	return out, err
}

// List returns every draft owned by owner, oldest first.
func (s *Service) List(ctx context.Context, owner string) ([]*model.Draft, error) {
	var out []*model.Draft
	err := s.st.View(ctx, func(tx store.Tx) error {
		rows, err := tx.Drafts().ByOwner(ctx, owner)
		if err != nil {
			return err
		}
		out = rows
		return nil
	})
	return out, err
}

// Discard deletes a draft without promoting it.
func (s *Service) Discard(ctx context.Context, id uuid.UUID) error {
	return s.st.Update(ctx, func(tx store.Tx) error {
		return tx.Drafts().Delete(ctx, id)
	})
}

// Promote turns a draft into a form version. The draft's content is fully
// validated first; any problem aborts with the complete issue list and the
// draft intact. On success a new lineage (target unset) or the next version
// of the target lineage is written, the structure is materialized under it,
// and the draft is deleted. Everything happens in one transaction.
func (s *Service) Promote(ctx context.Context, draftID uuid.UUID) (*model.Form, error) {
	var promoted *model.Form
	err := s.st.Update(ctx, func(tx store.Tx) error {
		row, err := tx.Drafts().Get(ctx, draftID)
		if err != nil {
			return err
		}
		content := row.Content

		var issues []model.Issue
		if strings.TrimSpace(content.Title) == "" {
			issues = append(issues, model.Issue{Location: "title", Message: "form title is required"})
		}
		var typeRoot uuid.UUID
		if strings.TrimSpace(content.TypeCode) == "" {
			issues = append(issues, model.Issue{Location: "type", Message: "form type code is required"})
		} else {
			ft, err := tx.FormTypes().CurrentByCode(ctx, content.TypeCode)
			switch {
			case model.IsNotFound(err):
				issues = append(issues, model.Issue{Location: "type", Message: "unknown form type code " + content.TypeCode})
			case err != nil:
				return err
			default:
				typeRoot = ft.Rev.Root
			}
		}
		issues = append(issues, structure.ValidateSections(ctx, registry.NewLookup(tx), content.Sections, s.maxDepth)...)
		if err := model.Validation(issues); err != nil {
			return err
		}

		eng := lineage.New(tx.Forms(), "form",
			func(f *model.Form) *model.Form { return f.Clone() },
			lineage.WithClock[*model.Form](s.now))

		var form *model.Form
		if row.TargetRoot == nil {
			if _, err := tx.Forms().CurrentByTitle(ctx, content.Title); err == nil {
				return model.Validation([]model.Issue{{
					Location: "title",
					Message:  "a form titled " + content.Title + " already exists",
				}})
			} else if !model.IsNotFound(err) {
				return err
			}
			form = &model.Form{
				Code:        model.NewCode(model.CodePrefixForm),
				Title:       content.Title,
				Description: content.Description,
				TypeRoot:    typeRoot,
				Completed:   true,
			}
			if err := eng.CreateRoot(ctx, form); err != nil {
				return err
			}
		} else {
			form, err = eng.CreateVersion(ctx, *row.TargetRoot, row.BaseVersion, func(f *model.Form) {
				f.Title = content.Title
				f.Description = content.Description
				f.TypeRoot = typeRoot
				f.Completed = true
			})
			if err != nil {
				return err
			}
		}

		g := structure.New(tx, form.Rev.ID, s.maxDepth)
		resolve := func(name string) (uuid.UUID, error) {
			ft, err := tx.FieldTypes().ByName(ctx, name)
			if err != nil {
				return uuid.Nil, err
			}
			return ft.ID, nil
		}
		if err := g.Materialize(ctx, content.Sections, resolve); err != nil {
			return err
		}
		if err := tx.Drafts().Delete(ctx, draftID); err != nil {
			return err
		}
		promoted = form
		return nil
	})
	return promoted, err
}
