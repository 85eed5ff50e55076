// Package testsupport seeds stores with a small, realistic catalog so
// contract tests across packages start from the same data.
package testsupport

import (
	"context"
	"testing"

	"github.com/nexgensis/go-forms/pkg/bulk"
	"github.com/nexgensis/go-forms/pkg/model"
	"github.com/nexgensis/go-forms/pkg/registry"
	"github.com/nexgensis/go-forms/pkg/store"
	"github.com/nexgensis/go-forms/pkg/store/memory"
	"github.com/nexgensis/go-forms/pkg/taxonomy"
)

// Catalog is what SeedCatalog leaves behind.
type Catalog struct {
	Store    store.Store
	TypeCode string
	TypeRoot *model.FormType
}

// SeedCatalog builds an in-memory store with the default data types, a few
// field types and one taxonomy node. Testing helpers fail the test on error
// to keep contract tests concise.
func SeedCatalog(t *testing.T) *Catalog {
	t.Helper()
	ctx := context.Background()
	st := memory.New()

	reg := registry.New(st)
	if err := reg.SeedDefaults(ctx); err != nil {
		t.Fatalf("testsupport: seed registry: %v", err)
	}
	for _, def := range []registry.Definition{
		{Name: "short text", DataType: "text", Rules: map[string]string{"max_length": "255"}},
		{Name: "long text", DataType: "text"},
		{Name: "integer", DataType: "number"},
		{Name: "calendar date", DataType: "date"},
		{Name: "checkbox", DataType: "boolean"},
		{Name: "department", DataType: "choice", Dynamic: true, Endpoint: "https://api.example.com/departments"},
	} {
		if _, err := reg.DefineFieldType(ctx, def); err != nil {
			t.Fatalf("testsupport: define %s: %v", def.Name, err)
		}
	}

	node, err := taxonomy.New(st).CreateRoot(ctx, "Inspections", "routine site inspections", nil)
	if err != nil {
		t.Fatalf("testsupport: create form type: %v", err)
	}
	return &Catalog{Store: st, TypeCode: node.Code, TypeRoot: node}
}

// SampleRows returns a well-formed import batch for the seeded catalog: one
// section with a top-level field and a nested pair.
func (c *Catalog) SampleRows() []bulk.Row {
	return []bulk.Row{
		{
			FormTypeCode: c.TypeCode, SectionName: "General", SectionOrder: 1,
			FieldLabel: "Inspector", FieldName: "inspector",
			FieldTypeName: "short text", DataTypeName: "text",
			Required: true, FieldOrder: 1,
			ValidationRules: "max_length=80;min_length=2",
		},
		{
			FormTypeCode: c.TypeCode, SectionName: "General", SectionOrder: 1,
			FieldLabel: "Readings", FieldName: "readings",
			FieldTypeName: "long text", DataTypeName: "text",
			FieldOrder: 2,
		},
		{
			FormTypeCode: c.TypeCode, SectionName: "General", SectionOrder: 1,
			FieldLabel: "Humidity", FieldName: "humidity",
			FieldTypeName: "integer", DataTypeName: "number",
			FieldOrder: 1, ParentFieldName: "readings",
			ValidationRules: "max=100;min=0",
		},
	}
}

// SampleSnapshot returns draft content equivalent to SampleRows.
func (c *Catalog) SampleSnapshot(title string) model.FormSnapshot {
	return model.FormSnapshot{
		Title:    title,
		TypeCode: c.TypeCode,
		Sections: []model.SectionSnapshot{{
			Name:  "General",
			Order: 1,
			Fields: []model.FieldSnapshot{
				{
					Label: "Inspector", Name: "inspector", TypeName: "short text",
					Required: true, Order: 1,
					Rules: map[string]string{"max_length": "80", "min_length": "2"},
				},
				{
					Label: "Readings", Name: "readings", TypeName: "long text", Order: 2,
					Fields: []model.FieldSnapshot{{
						Label: "Humidity", Name: "humidity", TypeName: "integer", Order: 1,
						Rules: map[string]string{"max": "100", "min": "0"},
					}},
				},
			},
		}},
	}
}
