// Package forms is the facade over the versioned form catalog: taxonomy,
// field type registry, version lineages, drafts, bulk import/export and
// schema emission. Construct a Service over a store and use it as the single
// entry point; the sub-packages remain importable for callers that need a
// narrower surface.
package forms

import (
	"context"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nexgensis/go-forms/pkg/bulk"
	"github.com/nexgensis/go-forms/pkg/config"
	"github.com/nexgensis/go-forms/pkg/draft"
	"github.com/nexgensis/go-forms/pkg/lineage"
	"github.com/nexgensis/go-forms/pkg/model"
	"github.com/nexgensis/go-forms/pkg/openapi"
	"github.com/nexgensis/go-forms/pkg/registry"
	"github.com/nexgensis/go-forms/pkg/store"
	"github.com/nexgensis/go-forms/pkg/store/memory"
	"github.com/nexgensis/go-forms/pkg/store/sqlite"
	"github.com/nexgensis/go-forms/pkg/structure"
	"github.com/nexgensis/go-forms/pkg/taxonomy"
)

// Service bundles the catalog components behind one API.
type Service struct {
	st  store.Store
	cfg config.Config
	log *zap.Logger

	registry *registry.Service
	taxonomy *taxonomy.Service
	drafts   *draft.Service
	bulk     *bulk.Engine
}

// Option configures a Service.
type Option func(*Service)

// WithConfig replaces the default configuration.
func WithConfig(cfg config.Config) Option {
	return func(s *Service) { s.cfg = cfg }
}

// WithLogger attaches a logger.
func WithLogger(log *zap.Logger) Option {
	return func(s *Service) { s.log = log }
}

// New builds a Service over an existing store.
func New(st store.Store, opts ...Option) *Service {
	s := &Service{st: st, cfg: config.Default(), log: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	s.registry = registry.New(st)
	s.taxonomy = taxonomy.New(st)
	s.drafts = draft.New(st, draft.WithMaxDepth(s.cfg.MaxNestingDepth))
	s.bulk = bulk.New(st, bulk.WithMaxDepth(s.cfg.MaxNestingDepth))
	return s
}

// Open builds a Service with a store chosen by the configuration: SQLite
// when a database path is set, in-memory otherwise.
func Open(cfg config.Config, log *zap.Logger) (*Service, error) {
	if log == nil {
		log = zap.NewNop()
	}
	var st store.Store
	if cfg.Database.Path != "" {
		var err error
		st, err = sqlite.Open(cfg.Database.Path, sqlite.WithLogger(log))
		if err != nil {
			return nil, err
		}
	} else {
		st = memory.New()
	}
	return New(st, WithConfig(cfg), WithLogger(log)), nil
}

// Close releases the underlying store.
func (s *Service) Close() error { return s.st.Close() }

// Registry exposes field type and data type management.
func (s *Service) Registry() *registry.Service { return s.registry }

// Drafts exposes the draft workflow.
func (s *Service) Drafts() *draft.Service { return s.drafts }

// taxonomy operations

func errCategorizationDisabled() error {
	return model.Validation([]model.Issue{{
		Location: "config",
		Message:  "form categorization is disabled",
	}})
}

// CreateFormType adds a taxonomy node, optionally under a parent lineage.
func (s *Service) CreateFormType(ctx context.Context, name, description string, parent *uuid.UUID) (*model.FormType, error) {
	if !s.cfg.EnableCategorization {
		return nil, errCategorizationDisabled()
	}
	node, err := s.taxonomy.CreateRoot(ctx, name, description, parent)
	if err != nil {
		return nil, err
	}
	s.log.Info("form type created",
		zap.String("code", node.Code), zap.String("name", node.Name))
	return node, nil
}

// UpdateFormType writes the next version of a taxonomy node.
func (s *Service) UpdateFormType(ctx context.Context, root uuid.UUID, expect int, name, description string) (*model.FormType, error) {
	if !s.cfg.EnableCategorization {
		return nil, errCategorizationDisabled()
	}
	return s.taxonomy.Update(ctx, root, expect, name, description)
}

// ReparentFormType moves a taxonomy node under a new parent lineage.
func (s *Service) ReparentFormType(ctx context.Context, root uuid.UUID, expect int, parent *uuid.UUID) (*model.FormType, error) {
	if !s.cfg.EnableCategorization {
		return nil, errCategorizationDisabled()
	}
	return s.taxonomy.Reparent(ctx, root, expect, parent)
}

// DeleteFormType retires a taxonomy node; nodes with children or referencing
// forms are protected.
func (s *Service) DeleteFormType(ctx context.Context, root uuid.UUID, expect int) error {
	if !s.cfg.EnableCategorization {
		return errCategorizationDisabled()
	}
	return s.taxonomy.Delete(ctx, root, expect)
}

// FormTypes lists the current version of every taxonomy node.
func (s *Service) FormTypes(ctx context.Context) ([]*model.FormType, error) {
	return s.taxonomy.List(ctx)
}

// FormTypeChildren lists the current children of a taxonomy node.
func (s *Service) FormTypeChildren(ctx context.Context, root uuid.UUID) ([]*model.FormType, error) {
	return s.taxonomy.Children(ctx, root)
}

// FormTypeLineage returns a node's version history, ascending.
func (s *Service) FormTypeLineage(ctx context.Context, root uuid.UUID) ([]*model.FormType, error) {
	return s.taxonomy.Lineage(ctx, root)
}

// form operations

// FormUpdate names the fields CreateFormVersion may change. Nil pointers
// leave the previous version's value in place.
type FormUpdate struct {
	Title          *string
	Description    *string
	TypeCode       *string
	Completed      *bool
	MainProcessRef *string
	CriteriaRef    *string
}

// CreateFormVersion appends the next version of a form lineage, carrying the
// previous structure forward unchanged. expect is the optimistic check.
func (s *Service) CreateFormVersion(ctx context.Context, root uuid.UUID, expect int, update FormUpdate) (*model.Form, error) {
	if !s.cfg.EnableCategorization && (update.MainProcessRef != nil || update.CriteriaRef != nil) {
		return nil, errCategorizationDisabled()
	}

	var out *model.Form
	err := s.st.Update(ctx, func(tx store.Tx) error {
		var typeRoot *uuid.UUID
		if update.TypeCode != nil {
			ft, err := tx.FormTypes().CurrentByCode(ctx, *update.TypeCode)
			if err != nil {
				return err
			}
			typeRoot = &ft.Rev.Root
		}

		cur, err := tx.Forms().CurrentByRoot(ctx, root)
		if err != nil {
			return err
		}
		sections, err := structure.New(tx, cur.Rev.ID, s.cfg.MaxNestingDepth).Snapshot(ctx)
		if err != nil {
			return err
		}

		eng := lineage.New(tx.Forms(), "form", func(f *model.Form) *model.Form { return f.Clone() })
		next, err := eng.CreateVersion(ctx, root, expect, func(f *model.Form) {
			if len(sections) > 0 {
				f.Completed = true
			}
			if update.Title != nil {
				f.Title = *update.Title
			}
			if update.Description != nil {
				f.Description = *update.Description
			}
			if typeRoot != nil {
				f.TypeRoot = *typeRoot
			}
			if update.Completed != nil {
				f.Completed = *update.Completed
			}
			if update.MainProcessRef != nil {
				f.MainProcessRef = *update.MainProcessRef
			}
			if update.CriteriaRef != nil {
				f.CriteriaRef = *update.CriteriaRef
			}
		})
		if err != nil {
			return err
		}

		g := structure.New(tx, next.Rev.ID, s.cfg.MaxNestingDepth)
		resolve := func(name string) (uuid.UUID, error) {
			ft, err := tx.FieldTypes().ByName(ctx, name)
			if err != nil {
				return uuid.Nil, err
			}
			return ft.ID, nil
		}
		if err := g.Materialize(ctx, sections, resolve); err != nil {
			return err
		}
		out = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("form version created",
		zap.String("code", out.Code), zap.Int("version", out.Rev.Version))
	return out, nil
}

// RetireForm closes a form lineage.
func (s *Service) RetireForm(ctx context.Context, root uuid.UUID, expect int) error {
	return s.st.Update(ctx, func(tx store.Tx) error {
		eng := lineage.New(tx.Forms(), "form", func(f *model.Form) *model.Form { return f.Clone() })
		return eng.Retire(ctx, root, expect)
	})
}

// CurrentForm returns the current version of a lineage together with its
// ordered structure snapshot.
func (s *Service) CurrentForm(ctx context.Context, root uuid.UUID) (*model.Form, []model.SectionSnapshot, error) {
	var form *model.Form
	var sections []model.SectionSnapshot
	err := s.st.View(ctx, func(tx store.Tx) error {
		var err error
		form, err = tx.Forms().CurrentByRoot(ctx, root)
		if err != nil {
			return err
		}
		sections, err = structure.New(tx, form.Rev.ID, s.cfg.MaxNestingDepth).Snapshot(ctx)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return form, sections, nil
}

// FormLineage returns every version of a lineage, ascending.
func (s *Service) FormLineage(ctx context.Context, root uuid.UUID) ([]*model.Form, error) {
	var out []*model.Form
	err := s.st.View(ctx, func(tx store.Tx) error {
		var err error
		out, err = tx.Forms().LineageByRoot(ctx, root)
		return err
	})
	return out, err
}

// Forms lists the current version of every form lineage.
func (s *Service) Forms(ctx context.Context) ([]*model.Form, error) {
	var out []*model.Form
	err := s.st.View(ctx, func(tx store.Tx) error {
		var err error
		out, err = tx.Forms().CurrentAll(ctx)
		return err
	})
	return out, err
}

// drafts

// SaveDraft upserts a working copy for (owner, target).
func (s *Service) SaveDraft(ctx context.Context, owner string, target *uuid.UUID, content model.FormSnapshot) (*model.Draft, error) {
	return s.drafts.Save(ctx, owner, target, content)
}

// PromoteDraft validates a draft and turns it into a form version.
func (s *Service) PromoteDraft(ctx context.Context, draftID uuid.UUID) (*model.Form, error) {
	form, err := s.drafts.Promote(ctx, draftID)
	if err != nil {
		return nil, err
	}
	s.log.Info("draft promoted",
		zap.String("code", form.Code), zap.Int("version", form.Rev.Version))
	return form, nil
}

// bulk

// ImportRows runs a tabular import; the whole batch commits or nothing does.
func (s *Service) ImportRows(ctx context.Context, req bulk.Request) (*bulk.Result, error) {
	if !s.cfg.EnableBulkImport {
		return nil, model.Validation([]model.Issue{{
			Location: "config",
			Message:  "bulk import is disabled",
		}})
	}
	res, err := s.bulk.Import(ctx, req)
	if err != nil {
		return nil, err
	}
	s.log.Info("bulk import committed",
		zap.String("code", res.Form.Code),
		zap.Int("sections", res.Sections),
		zap.Int("fields", res.Fields))
	return res, nil
}

// ExportRows emits the current version of a form as tabular rows.
func (s *Service) ExportRows(ctx context.Context, root uuid.UUID) ([]bulk.Row, error) {
	return s.bulk.Export(ctx, root)
}

// schema

// FormSchema renders the current version of a form as an OpenAPI object
// schema. Dynamic option endpoints appear as extensions only.
func (s *Service) FormSchema(ctx context.Context, root uuid.UUID) (*openapi3.Schema, error) {
	var schema *openapi3.Schema
	err := s.st.View(ctx, func(tx store.Tx) error {
		form, err := tx.Forms().CurrentByRoot(ctx, root)
		if err != nil {
			return err
		}
		sections, err := structure.New(tx, form.Rev.ID, s.cfg.MaxNestingDepth).Snapshot(ctx)
		if err != nil {
			return err
		}
		lk := registry.NewLookup(tx)
		resolve := func(typeName string) (openapi.TypeInfo, error) {
			ft, dt, err := lk.FieldType(ctx, typeName)
			if err != nil {
				return openapi.TypeInfo{}, err
			}
			return openapi.TypeInfo{Kind: dt.Kind, Dynamic: ft.Dynamic, Endpoint: ft.Endpoint}, nil
		}
		schema, err = openapi.BuildSchema(form, sections, resolve)
		return err
	})
	return schema, err
}
