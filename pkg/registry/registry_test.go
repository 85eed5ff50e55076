package registry_test

import (
	"context"
	"strings"
	"testing"

	"github.com/nexgensis/go-forms/pkg/model"
	"github.com/nexgensis/go-forms/pkg/registry"
	"github.com/nexgensis/go-forms/pkg/store"
	"github.com/nexgensis/go-forms/pkg/store/memory"
)

func seeded(t *testing.T) (*registry.Service, *memory.Store) {
	t.Helper()
	st := memory.New()
	svc := registry.New(st)
	if err := svc.SeedDefaults(context.Background()); err != nil {
		t.Fatalf("seed: %v", err)
	}
	return svc, st
}

func TestDefineFieldTypeWithRules(t *testing.T) {
	svc, _ := seeded(t)
	ctx := context.Background()

	ft, err := svc.DefineFieldType(ctx, registry.Definition{
		Name:     "short_text",
		DataType: "text",
		Rules:    map[string]string{"max_length": "120", "pattern": "^[a-z]+$"},
	})
	if err != nil {
		t.Fatalf("define: %v", err)
	}
	if ft.Rules.Text == nil || ft.Rules.Text.MaxLength == nil || *ft.Rules.Text.MaxLength != 120 {
		t.Fatalf("rules not parsed: %+v", ft.Rules)
	}
}

func TestDefineFieldTypeUnknownRuleKeyRejected(t *testing.T) {
	svc, _ := seeded(t)
	ctx := context.Background()

	_, err := svc.DefineFieldType(ctx, registry.Definition{
		Name:     "age",
		DataType: "number",
		Rules:    map[string]string{"min": "0", "max_length": "3"},
	})
	ve, ok := model.AsValidation(err)
	if !ok {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if len(ve.Issues) != 1 {
		t.Fatalf("expected exactly one issue, got %d: %v", len(ve.Issues), ve.Issues)
	}
	if !strings.Contains(ve.Issues[0].Message, "max_length") {
		t.Fatalf("issue should cite the unknown key: %v", ve.Issues[0])
	}

	// rejected at definition time: nothing was stored
	if _, err := svc.FieldTypeByName(ctx, "age"); !model.IsNotFound(err) {
		t.Fatalf("expected nothing stored, got %v", err)
	}
}

func TestDynamicFieldTypeRequiresEndpoint(t *testing.T) {
	svc, _ := seeded(t)
	ctx := context.Background()

	_, err := svc.DefineFieldType(ctx, registry.Definition{
		Name:     "department",
		DataType: "choice",
		Dynamic:  true,
	})
	if _, ok := model.AsValidation(err); !ok {
		t.Fatalf("expected ValidationError, got %v", err)
	}

	ft, err := svc.DefineFieldType(ctx, registry.Definition{
		Name:     "department",
		DataType: "choice",
		Dynamic:  true,
		Endpoint: "/api/config/departments/",
	})
	if err != nil {
		t.Fatalf("define with endpoint: %v", err)
	}
	if ft.Endpoint != "/api/config/departments/" {
		t.Fatalf("endpoint not stored: %q", ft.Endpoint)
	}
}

func TestStaticFieldTypeRejectsEndpoint(t *testing.T) {
	svc, _ := seeded(t)

	_, err := svc.DefineFieldType(context.Background(), registry.Definition{
		Name:     "plain",
		DataType: "text",
		Endpoint: "/api/whatever/",
	})
	if _, ok := model.AsValidation(err); !ok {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestDeleteFieldTypeInUseBlocked(t *testing.T) {
	svc, st := seeded(t)
	ctx := context.Background()

	ft, err := svc.DefineFieldType(ctx, registry.Definition{Name: "free_text", DataType: "text"})
	if err != nil {
		t.Fatalf("define: %v", err)
	}

	// reference it from a stored field
	if err := st.Update(ctx, func(tx store.Tx) error {
		return tx.Fields().Insert(ctx, &model.Field{
			ID:        model.NewID(),
			SectionID: model.NewID(),
			Label:     "Notes",
			Name:      "notes",
			TypeID:    ft.ID,
			Order:     1,
		})
	}); err != nil {
		t.Fatalf("insert field: %v", err)
	}

	if err := svc.DeleteFieldType(ctx, ft.ID); !model.IsIntegrity(err) {
		t.Fatalf("expected IntegrityError, got %v", err)
	}
	if _, err := svc.FieldTypeByName(ctx, "free_text"); err != nil {
		t.Fatalf("field type must survive blocked delete: %v", err)
	}
}

func TestDeleteUnusedFieldType(t *testing.T) {
	svc, _ := seeded(t)
	ctx := context.Background()

	ft, err := svc.DefineFieldType(ctx, registry.Definition{Name: "scratch", DataType: "boolean"})
	if err != nil {
		t.Fatalf("define: %v", err)
	}
	if err := svc.DeleteFieldType(ctx, ft.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := svc.FieldTypeByName(ctx, "scratch"); !model.IsNotFound(err) {
		t.Fatalf("expected removal, got %v", err)
	}
}

func TestSeedDefaultsIdempotent(t *testing.T) {
	svc, _ := seeded(t)
	ctx := context.Background()

	if err := svc.SeedDefaults(ctx); err != nil {
		t.Fatalf("reseed: %v", err)
	}
	types, err := svc.DataTypes(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(types) != len(model.Kinds()) {
		t.Fatalf("expected %d data types, got %d", len(model.Kinds()), len(types))
	}
}
