package draft_test

import (
	"context"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/nexgensis/go-forms/pkg/draft"
	"github.com/nexgensis/go-forms/pkg/lineage"
	"github.com/nexgensis/go-forms/pkg/model"
	"github.com/nexgensis/go-forms/pkg/registry"
	"github.com/nexgensis/go-forms/pkg/store"
	"github.com/nexgensis/go-forms/pkg/store/memory"
	"github.com/nexgensis/go-forms/pkg/taxonomy"
)

type env struct {
	st     store.Store
	drafts *draft.Service
	forms  *taxonomy.Service
	typec  string
}

func setup(t *testing.T) *env {
	t.Helper()
	ctx := context.Background()
	st := memory.New()

	reg := registry.New(st)
	if err := reg.SeedDefaults(ctx); err != nil {
		t.Fatalf("seed registry: %v", err)
	}
	if _, err := reg.DefineFieldType(ctx, registry.Definition{Name: "short text", DataType: "text"}); err != nil {
		t.Fatalf("define field type: %v", err)
	}

	tax := taxonomy.New(st)
	ft, err := tax.CreateRoot(ctx, "Inspections", "", nil)
	if err != nil {
		t.Fatalf("create form type: %v", err)
	}

	return &env{st: st, drafts: draft.New(st), forms: tax, typec: ft.Code}
}

func snapshot(title, typeCode string) model.FormSnapshot {
	return model.FormSnapshot{
		Title:    title,
		TypeCode: typeCode,
		Sections: []model.SectionSnapshot{{
			Name:  "General",
			Order: 1,
			Fields: []model.FieldSnapshot{{
				Label: "Inspector", Name: "inspector", TypeName: "short text", Required: true, Order: 1,
			}},
		}},
	}
}

func (e *env) promoteNew(t *testing.T, title string) *model.Form {
	t.Helper()
	ctx := context.Background()
	d, err := e.drafts.Save(ctx, "alex", nil, snapshot(title, e.typec))
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	form, err := e.drafts.Promote(ctx, d.ID)
	if err != nil {
		t.Fatalf("promote: %v", err)
	}
	return form
}

func TestPromoteNewFormCreatesLineageAndDeletesDraft(t *testing.T) {
	ctx := context.Background()
	e := setup(t)

	d, err := e.drafts.Save(ctx, "alex", nil, snapshot("Site Audit", e.typec))
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	form, err := e.drafts.Promote(ctx, d.ID)
	if err != nil {
		t.Fatalf("promote: %v", err)
	}

	if form.Rev.Version != 1 || form.Rev.Root != form.Rev.ID {
		t.Fatalf("expected a fresh root, got version %d", form.Rev.Version)
	}
	if form.Code == "" {
		t.Fatalf("promoted form must receive a code")
	}
	if _, err := e.drafts.Get(ctx, "alex", nil); !model.IsNotFound(err) {
		t.Fatalf("draft should be gone after promotion, got %v", err)
	}
}

func TestPromoteExistingFormAppendsVersion(t *testing.T) {
	ctx := context.Background()
	e := setup(t)
	v1 := e.promoteNew(t, "Site Audit")

	content := snapshot("Site Audit 2024", e.typec)
	d, err := e.drafts.Save(ctx, "alex", &v1.Rev.Root, content)
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if d.BaseVersion != 1 {
		t.Fatalf("save should record the current version, got %d", d.BaseVersion)
	}

	v2, err := e.drafts.Promote(ctx, d.ID)
	if err != nil {
		t.Fatalf("promote: %v", err)
	}
	if v2.Rev.Version != 2 || v2.Code != v1.Code {
		t.Fatalf("expected version 2 under the same code, got v%d %q", v2.Rev.Version, v2.Code)
	}
}

func TestPromoteStaleDraftConflictsAndRetainsDraft(t *testing.T) {
	ctx := context.Background()
	e := setup(t)
	v1 := e.promoteNew(t, "Site Audit")

	stale, err := e.drafts.Save(ctx, "alex", &v1.Rev.Root, snapshot("Stale Edit", e.typec))
	if err != nil {
		t.Fatalf("save stale: %v", err)
	}

	// someone else publishes version 2 while the draft sits idle
	if err := e.st.Update(ctx, func(tx store.Tx) error {
		eng := lineage.New(tx.Forms(), "form", func(f *model.Form) *model.Form { return f.Clone() })
		_, err := eng.CreateVersion(ctx, v1.Rev.Root, 1, func(f *model.Form) { f.Title = "Renamed" })
		return err
	}); err != nil {
		t.Fatalf("interleaved version: %v", err)
	}

	_, err = e.drafts.Promote(ctx, stale.ID)
	if !model.IsConflict(err) {
		t.Fatalf("expected ConflictError, got %v", err)
	}
	if _, err := e.drafts.Get(ctx, "alex", &v1.Rev.Root); err != nil {
		t.Fatalf("failed promotion must retain the draft: %v", err)
	}
}

func TestPromoteInvalidContentReportsAllIssues(t *testing.T) {
	ctx := context.Background()
	e := setup(t)

	content := model.FormSnapshot{
		TypeCode: "FTYPE-DOESNOTEX",
		Sections: []model.SectionSnapshot{{
			Name:  "General",
			Order: 1,
			Fields: []model.FieldSnapshot{
				{Label: "A", Name: "a", TypeName: "no such type", Order: 1},
			},
		}},
	}
	d, err := e.drafts.Save(ctx, "alex", nil, content)
	if err != nil {
		t.Fatalf("save: %v", err)
	}

	_, err = e.drafts.Promote(ctx, d.ID)
	verr, ok := model.AsValidation(err)
	if !ok {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if len(verr.Issues) != 3 {
		t.Fatalf("expected issues for title, type and field type, got %v", verr.Issues)
	}
	if _, err := e.drafts.Get(ctx, "alex", nil); err != nil {
		t.Fatalf("failed promotion must retain the draft: %v", err)
	}
}

func TestPromoteMarksFormCompleted(t *testing.T) {
	ctx := context.Background()
	e := setup(t)

	v1 := e.promoteNew(t, "Site Audit")
	if !v1.Completed {
		t.Fatalf("promoted form with materialized structure must be Completed")
	}

	d, err := e.drafts.Save(ctx, "alex", &v1.Rev.Root, snapshot("Site Audit 2024", e.typec))
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	v2, err := e.drafts.Promote(ctx, d.ID)
	if err != nil {
		t.Fatalf("promote: %v", err)
	}
	if !v2.Completed {
		t.Fatalf("promoted version must be Completed")
	}
}

func TestSaveKeepsIncompleteFieldUntilPromote(t *testing.T) {
	ctx := context.Background()
	e := setup(t)

	// the second field has no label yet; Save tolerates it
	content := snapshot("Site Audit", e.typec)
	content.Sections[0].Fields = append(content.Sections[0].Fields, model.FieldSnapshot{
		Name: "notes", TypeName: "short text", Order: 2,
	})

	d, err := e.drafts.Save(ctx, "alex", nil, content)
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := e.drafts.Get(ctx, "alex", nil)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if diff := cmp.Diff(content, got.Content); diff != "" {
		t.Fatalf("draft content changed on the way through the store (-want +got):\n%s", diff)
	}

	_, err = e.drafts.Promote(ctx, d.ID)
	verr, ok := model.AsValidation(err)
	if !ok {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if len(verr.Issues) != 1 || !strings.HasSuffix(verr.Issues[0].Location, "fields[1].label") {
		t.Fatalf("expected one issue at the missing label, got %v", verr.Issues)
	}
	if _, err := e.drafts.Get(ctx, "alex", nil); err != nil {
		t.Fatalf("failed promotion must retain the draft: %v", err)
	}
}

func TestSaveRejectsNegativeOrders(t *testing.T) {
	ctx := context.Background()
	e := setup(t)

	content := snapshot("Site Audit", e.typec)
	content.Sections[0].Order = -1
	content.Sections[0].Fields[0].Order = -3

	_, err := e.drafts.Save(ctx, "alex", nil, content)
	verr, ok := model.AsValidation(err)
	if !ok {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	want := []string{"sections[0].order", "sections[0].fields[0].order"}
	if len(verr.Issues) != len(want) {
		t.Fatalf("expected %d issues, got %v", len(want), verr.Issues)
	}
	for i, loc := range want {
		if verr.Issues[i].Location != loc {
			t.Fatalf("issue %d at %q, want %q", i, verr.Issues[i].Location, loc)
		}
	}
}

func TestSaveRejectsExcessiveNesting(t *testing.T) {
	ctx := context.Background()
	e := setup(t)

	deep := model.FieldSnapshot{Label: "L", Name: "l0", TypeName: "short text", Order: 1}
	for i := 1; i <= 12; i++ {
		deep = model.FieldSnapshot{
			Label: "L", Name: "l" + string(rune('a'+i)), TypeName: "short text", Order: 1,
			Fields: []model.FieldSnapshot{deep},
		}
	}
	content := model.FormSnapshot{
		Title:    "Deep",
		TypeCode: e.typec,
		Sections: []model.SectionSnapshot{{Name: "G", Order: 1, Fields: []model.FieldSnapshot{deep}}},
	}

	_, err := e.drafts.Save(ctx, "alex", nil, content)
	if _, ok := model.AsValidation(err); !ok {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestSaveUnknownTargetFails(t *testing.T) {
	ctx := context.Background()
	e := setup(t)

	missing := model.NewID()
	_, err := e.drafts.Save(ctx, "alex", &missing, snapshot("X", e.typec))
	if !model.IsNotFound(err) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
}
