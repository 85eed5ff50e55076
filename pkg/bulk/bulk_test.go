package bulk_test

import (
	"context"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/nexgensis/go-forms/pkg/bulk"
	"github.com/nexgensis/go-forms/pkg/model"
	"github.com/nexgensis/go-forms/pkg/registry"
	"github.com/nexgensis/go-forms/pkg/store"
	"github.com/nexgensis/go-forms/pkg/store/memory"
	"github.com/nexgensis/go-forms/pkg/taxonomy"
)

type env struct {
	st       store.Store
	eng      *bulk.Engine
	typeCode string
}

func setup(t *testing.T) *env {
	t.Helper()
	ctx := context.Background()
	st := memory.New()

	reg := registry.New(st)
	if err := reg.SeedDefaults(ctx); err != nil {
		t.Fatalf("seed registry: %v", err)
	}
	for _, def := range []registry.Definition{
		{Name: "short text", DataType: "text"},
		{Name: "integer", DataType: "number"},
	} {
		if _, err := reg.DefineFieldType(ctx, def); err != nil {
			t.Fatalf("define %s: %v", def.Name, err)
		}
	}

	ft, err := taxonomy.New(st).CreateRoot(ctx, "Inspections", "", nil)
	if err != nil {
		t.Fatalf("create form type: %v", err)
	}
	return &env{st: st, eng: bulk.New(st), typeCode: ft.Code}
}

func (e *env) rows() []bulk.Row {
	return []bulk.Row{
		{
			FormTypeCode: e.typeCode, SectionName: "General", SectionOrder: 1,
			FieldLabel: "Inspector", FieldName: "inspector",
			FieldTypeName: "short text", DataTypeName: "text",
			Required: true, FieldOrder: 1,
			ValidationRules: "max_length=80;min_length=2",
		},
		{
			FormTypeCode: e.typeCode, SectionName: "General", SectionOrder: 1,
			FieldLabel: "Readings", FieldName: "readings",
			FieldTypeName: "short text", DataTypeName: "text",
			FieldOrder: 2,
		},
		{
			FormTypeCode: e.typeCode, SectionName: "General", SectionOrder: 1,
			FieldLabel: "Humidity", FieldName: "humidity",
			FieldTypeName: "integer", DataTypeName: "number",
			FieldOrder: 1, ParentFieldName: "readings",
			ValidationRules: "max=100;min=0",
		},
	}
}

func (e *env) countForms(t *testing.T) int {
	t.Helper()
	n := 0
	if err := e.st.View(context.Background(), func(tx store.Tx) error {
		forms, err := tx.Forms().CurrentAll(context.Background())
		if err != nil {
			return err
		}
		n = len(forms)
		return nil
	}); err != nil {
		t.Fatalf("count forms: %v", err)
	}
	return n
}

func TestImportBuildsNestedStructure(t *testing.T) {
	ctx := context.Background()
	e := setup(t)

	res, err := e.eng.Import(ctx, bulk.Request{Title: "Site Audit", Rows: e.rows()})
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if res.Sections != 1 || res.Fields != 3 {
		t.Fatalf("expected 1 section and 3 fields, got %d/%d", res.Sections, res.Fields)
	}

	if err := e.st.View(ctx, func(tx store.Tx) error {
		sections, err := tx.Sections().ByForm(ctx, res.Form.Rev.ID)
		if err != nil {
			return err
		}
		fields, err := tx.Fields().BySection(ctx, sections[0].ID)
		if err != nil {
			return err
		}
		byName := map[string]*model.Field{}
		for _, f := range fields {
			byName[f.Name] = f
		}
		parent := byName["humidity"].Parent
		if parent == nil || *parent != byName["readings"].ID {
			t.Fatalf("humidity should be nested under readings")
		}
		if byName["inspector"].Parent != nil {
			t.Fatalf("inspector should be top level")
		}
		return nil
	}); err != nil {
		t.Fatalf("%v", err)
	}
}

func TestImportMarksFormCompleted(t *testing.T) {
	ctx := context.Background()
	e := setup(t)

	first, err := e.eng.Import(ctx, bulk.Request{Title: "Site Audit", Rows: e.rows()})
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if !first.Form.Completed {
		t.Fatalf("imported form with materialized structure must be Completed, got false")
	}

	root := first.Form.Rev.Root
	second, err := e.eng.Import(ctx, bulk.Request{
		Title: "Site Audit v2", TargetRoot: &root, BaseVersion: 1, Rows: e.rows(),
	})
	if err != nil {
		t.Fatalf("second import: %v", err)
	}
	if !second.Form.Completed {
		t.Fatalf("imported version must be Completed, got false")
	}
}

func TestImportUnknownFormTypeCodeReportedOnce(t *testing.T) {
	ctx := context.Background()
	e := setup(t)

	rows := e.rows()
	for i := range rows {
		rows[i].FormTypeCode = "FTYPE-DOESNOTEX"
	}

	_, err := e.eng.Import(ctx, bulk.Request{Title: "Site Audit", Rows: rows})
	verr, ok := model.AsValidation(err)
	if !ok {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if len(verr.Issues) != 1 {
		t.Fatalf("the unknown code should be cited once, got %v", verr.Issues)
	}
	if verr.Issues[0].Location != "rows[0].form_type_code" {
		t.Fatalf("issue must cite the first row using the code, got %q", verr.Issues[0].Location)
	}
}

func TestImportUnknownFieldTypeAbortsWholeBatch(t *testing.T) {
	ctx := context.Background()
	e := setup(t)

	rows := e.rows()
	rows[1].FieldTypeName = "hologram"
	rows[1].DataTypeName = ""

	_, err := e.eng.Import(ctx, bulk.Request{Title: "Site Audit", Rows: rows})
	verr, ok := model.AsValidation(err)
	if !ok {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if len(verr.Issues) != 1 {
		t.Fatalf("expected exactly one issue, got %v", verr.Issues)
	}
	if verr.Issues[0].Location != "rows[1].field_type_name" {
		t.Fatalf("issue must cite the bad row, got %q", verr.Issues[0].Location)
	}
	if n := e.countForms(t); n != 0 {
		t.Fatalf("failed import must persist nothing, found %d forms", n)
	}
}

func TestImportCollectsIssuesAcrossRows(t *testing.T) {
	ctx := context.Background()
	e := setup(t)

	rows := e.rows()
	rows[0].FieldLabel = ""
	rows[2].ParentFieldName = "missing"
	rows[2].ValidationRules = "min=9;max=1"

	_, err := e.eng.Import(ctx, bulk.Request{Title: "Site Audit", Rows: rows})
	verr, ok := model.AsValidation(err)
	if !ok {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	var locs []string
	for _, is := range verr.Issues {
		locs = append(locs, is.Location)
	}
	for _, want := range []string{"rows[0].field_label", "rows[2].validation_rules", "rows[2].parent_field_name"} {
		found := false
		for _, loc := range locs {
			if strings.HasPrefix(loc, want) {
				found = true
			}
		}
		if !found {
			t.Fatalf("missing issue for %s in %v", want, locs)
		}
	}
}

func TestImportStaleBaseVersionConflicts(t *testing.T) {
	ctx := context.Background()
	e := setup(t)

	first, err := e.eng.Import(ctx, bulk.Request{Title: "Site Audit", Rows: e.rows()})
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	root := first.Form.Rev.Root

	if _, err := e.eng.Import(ctx, bulk.Request{
		Title: "Site Audit v2", TargetRoot: &root, BaseVersion: 1, Rows: e.rows(),
	}); err != nil {
		t.Fatalf("second import: %v", err)
	}

	_, err = e.eng.Import(ctx, bulk.Request{
		Title: "Site Audit v3", TargetRoot: &root, BaseVersion: 1, Rows: e.rows(),
	})
	if !model.IsConflict(err) {
		t.Fatalf("expected ConflictError, got %v", err)
	}
}

func TestImportStripsMarkupFromCells(t *testing.T) {
	ctx := context.Background()
	e := setup(t)

	rows := e.rows()
	rows[0].FieldLabel = "<script>alert(1)</script>Inspector"

	res, err := e.eng.Import(ctx, bulk.Request{Title: "<b>Site Audit</b>", Rows: rows})
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if res.Form.Title != "Site Audit" {
		t.Fatalf("title not sanitized: %q", res.Form.Title)
	}
	exported, err := e.eng.Export(ctx, res.Form.Rev.Root)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	for _, row := range exported {
		if strings.Contains(row.FieldLabel, "<") {
			t.Fatalf("label not sanitized: %q", row.FieldLabel)
		}
	}
}

func TestExportReproducesImport(t *testing.T) {
	ctx := context.Background()
	e := setup(t)

	in := e.rows()
	res, err := e.eng.Import(ctx, bulk.Request{Title: "Site Audit", Rows: in})
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	out, err := e.eng.Export(ctx, res.Form.Rev.Root)
	if err != nil {
		t.Fatalf("export: %v", err)
	}

	// canonical order: inspector (1), readings (2), humidity nested under
	// readings directly after it
	want := []bulk.Row{in[0], in[1], in[2]}
	if diff := cmp.Diff(want, out); diff != "" {
		t.Fatalf("round trip mismatch (-imported +exported):\n%s", diff)
	}
}

func TestRuleCellCodec(t *testing.T) {
	decoded, err := bulk.DecodeRules("max=100; min=0")
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got := bulk.EncodeRules(decoded); got != "max=100;min=0" {
		t.Fatalf("encode: %q", got)
	}

	if _, err := bulk.DecodeRules("min=0;min=1"); err == nil {
		t.Fatalf("duplicate key must be rejected")
	}
	if _, err := bulk.DecodeRules("justakey"); err == nil {
		t.Fatalf("missing '=' must be rejected")
	}
}
