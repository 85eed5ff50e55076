// Package registry manages data types and reusable field types. Field type
// definitions are validated eagerly: rule keys must belong to the data type
// kind's allow-list and dynamic types must carry an endpoint, so misuse shows
// up at definition time rather than when a form is built.
package registry

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/nexgensis/go-forms/pkg/model"
	"github.com/nexgensis/go-forms/pkg/store"
)

// Definition is the input for defining a field type.
type Definition struct {
	Name     string
	DataType string
	Dynamic  bool
	Endpoint string
	Default  bool
	Rules    map[string]string
}

// Service exposes registry operations over a Store.
type Service struct {
	st store.Store
}

// New builds a registry service.
func New(st store.Store) *Service {
	return &Service{st: st}
}

// SeedDefaults creates one data type per supported kind, named after the
// kind. Existing names are left alone so seeding is idempotent.
func (s *Service) SeedDefaults(ctx context.Context) error {
	return s.st.Update(ctx, func(tx store.Tx) error {
		for _, kind := range model.Kinds() {
			if _, err := tx.DataTypes().ByName(ctx, string(kind)); err == nil {
				continue
			} else if !model.IsNotFound(err) {
				return err
			}
			dt := &model.DataType{ID: model.NewID(), Name: string(kind), Kind: kind}
			if err := tx.DataTypes().Insert(ctx, dt); err != nil {
				return err
			}
		}
		return nil
	})
}

// DefineDataType registers a named alias of a base kind.
func (s *Service) DefineDataType(ctx context.Context, name string, kind model.Kind) (*model.DataType, error) {
	name = strings.TrimSpace(name)
	var issues []model.Issue
	if name == "" {
		issues = append(issues, model.Issue{Location: "name", Message: "name is required"})
	}
	if !model.ValidKind(kind) {
		issues = append(issues, model.Issue{Location: "kind", Message: fmt.Sprintf("unknown kind %q", kind)})
	}
	if err := model.Validation(issues); err != nil {
		return nil, err
	}

	dt := &model.DataType{ID: model.NewID(), Name: name, Kind: kind}
	err := s.st.Update(ctx, func(tx store.Tx) error {
		if _, err := tx.DataTypes().ByName(ctx, name); err == nil {
			return model.Validation([]model.Issue{{
				Location: "name",
				Message:  "a data type with this name already exists",
			}})
		} else if !model.IsNotFound(err) {
			return err
		}
		return tx.DataTypes().Insert(ctx, dt)
	})
	if err != nil {
		return nil, err
	}
	return dt, nil
}

// DefineFieldType validates and registers a field type. All definition
// problems are reported together.
func (s *Service) DefineFieldType(ctx context.Context, def Definition) (*model.FieldType, error) {
	def.Name = strings.TrimSpace(def.Name)

	var created *model.FieldType
	err := s.st.Update(ctx, func(tx store.Tx) error {
		var issues []model.Issue
		if def.Name == "" {
			issues = append(issues, model.Issue{Location: "name", Message: "name is required"})
		} else if _, err := tx.FieldTypes().ByName(ctx, def.Name); err == nil {
			issues = append(issues, model.Issue{Location: "name", Message: "a field type with this name already exists"})
		} else if !model.IsNotFound(err) {
			return err
		}

		var dt *model.DataType
		if def.DataType == "" {
			issues = append(issues, model.Issue{Location: "data_type", Message: "data type is required"})
		} else {
			var err error
			dt, err = tx.DataTypes().ByName(ctx, def.DataType)
			if model.IsNotFound(err) {
				issues = append(issues, model.Issue{
					Location: "data_type",
					Message:  fmt.Sprintf("unknown data type %q", def.DataType),
				})
			} else if err != nil {
				return err
			}
		}

		issues = append(issues, CheckEndpoint(def.Dynamic, def.Endpoint)...)

		var rules model.RuleSet
		if dt != nil {
			var err error
			rules, err = model.ParseRuleSet(dt.Kind, def.Rules)
			if ve, ok := model.AsValidation(err); ok {
				issues = append(issues, model.PrefixIssues("rules", ve.Issues)...)
			} else if err != nil {
				return err
			}
		}

		if err := model.Validation(issues); err != nil {
			return err
		}

		ft := &model.FieldType{
			ID:         model.NewID(),
			Name:       def.Name,
			DataTypeID: dt.ID,
			Dynamic:    def.Dynamic,
			Endpoint:   def.Endpoint,
			Default:    def.Default,
			Rules:      rules,
		}
		if err := tx.FieldTypes().Insert(ctx, ft); err != nil {
			return err
		}
		created = ft
		return nil
	})
	return created, err
}

// CheckEndpoint validates the dynamic/endpoint pairing: dynamic field types
// must declare an endpoint, static ones must not.
func CheckEndpoint(dynamic bool, endpoint string) []model.Issue {
	endpoint = strings.TrimSpace(endpoint)
	if dynamic && endpoint == "" {
		return []model.Issue{{Location: "endpoint", Message: "dynamic field types require an endpoint"}}
	}
	if !dynamic && endpoint != "" {
		return []model.Issue{{Location: "endpoint", Message: "endpoint is only allowed on dynamic field types"}}
	}
	return nil
}

// DeleteFieldType removes a field type definition. Types referenced by any
// stored field are protected; the delete is rejected, never cascaded.
func (s *Service) DeleteFieldType(ctx context.Context, id uuid.UUID) error {
	return s.st.Update(ctx, func(tx store.Tx) error {
		ft, err := tx.FieldTypes().Get(ctx, id)
		if err != nil {
			return err
		}
		n, err := tx.Fields().CountByFieldType(ctx, id)
		if err != nil {
			return err
		}
		if n > 0 {
			return &model.IntegrityError{
				Entity: "field type",
				Ref:    ft.Name,
				Reason: fmt.Sprintf("still referenced by %d field(s)", n),
			}
		}
		return tx.FieldTypes().Delete(ctx, id)
	})
}

// FieldTypeByName resolves a field type case-insensitively.
func (s *Service) FieldTypeByName(ctx context.Context, name string) (*model.FieldType, error) {
	var out *model.FieldType
	err := s.st.View(ctx, func(tx store.Tx) error {
		ft, err := tx.FieldTypes().ByName(ctx, name)
		if err != nil {
			return err
		}
		out = ft
		return nil
	})
	return out, err
}

// DataTypeByName resolves a data type case-insensitively.
func (s *Service) DataTypeByName(ctx context.Context, name string) (*model.DataType, error) {
	var out *model.DataType
	err := s.st.View(ctx, func(tx store.Tx) error {
		dt, err := tx.DataTypes().ByName(ctx, name)
		if err != nil {
			return err
		}
		out = dt
		return nil
	})
	return out, err
}

// FieldTypes lists every definition ordered by name.
func (s *Service) FieldTypes(ctx context.Context) ([]*model.FieldType, error) {
	var out []*model.FieldType
	err := s.st.View(ctx, func(tx store.Tx) error {
		rows, err := tx.FieldTypes().All(ctx)
		if err != nil {
			return err
		}
		out = rows
		return nil
	})
	return out, err
}

// DataTypes lists every data type ordered by name.
func (s *Service) DataTypes(ctx context.Context) ([]*model.DataType, error) {
	var out []*model.DataType
	err := s.st.View(ctx, func(tx store.Tx) error {
		rows, err := tx.DataTypes().All(ctx)
		if err != nil {
			return err
		}
		out = rows
		return nil
	})
	return out, err
}

// Lookup is a transaction-scoped read view of the registry for components
// that validate inside their own transactions (draft promotion, bulk import).
type Lookup struct {
	tx store.Tx
}

// NewLookup wraps a transaction.
func NewLookup(tx store.Tx) *Lookup { return &Lookup{tx: tx} }

// FieldType resolves a field type and its data type by field type name.
func (l *Lookup) FieldType(ctx context.Context, name string) (*model.FieldType, *model.DataType, error) {
	ft, err := l.tx.FieldTypes().ByName(ctx, name)
	if err != nil {
		return nil, nil, err
	}
	dt, err := l.tx.DataTypes().Get(ctx, ft.DataTypeID)
	if err != nil {
		return nil, nil, err
	}
	return ft, dt, nil
}

// DataType resolves a data type by name.
func (l *Lookup) DataType(ctx context.Context, name string) (*model.DataType, error) {
	return l.tx.DataTypes().ByName(ctx, name)
}
