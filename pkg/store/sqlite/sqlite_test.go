package sqlite_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/nexgensis/go-forms/pkg/bulk"
	"github.com/nexgensis/go-forms/pkg/model"
	"github.com/nexgensis/go-forms/pkg/registry"
	"github.com/nexgensis/go-forms/pkg/store"
	"github.com/nexgensis/go-forms/pkg/store/sqlite"
	"github.com/nexgensis/go-forms/pkg/taxonomy"
)

func open(t *testing.T, path string) *sqlite.Store {
	t.Helper()
	st, err := sqlite.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	return st
}

func TestDataSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "forms.db")

	st := open(t, path)
	reg := registry.New(st)
	if err := reg.SeedDefaults(ctx); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := reg.DefineFieldType(ctx, registry.Definition{
		Name: "short text", DataType: "text",
		Rules: map[string]string{"max_length": "120"},
	}); err != nil {
		t.Fatalf("define: %v", err)
	}
	ft, err := taxonomy.New(st).CreateRoot(ctx, "Inspections", "", nil)
	if err != nil {
		t.Fatalf("taxonomy: %v", err)
	}
	res, err := bulk.New(st).Import(ctx, bulk.Request{
		Title: "Site Audit",
		Rows: []bulk.Row{{
			FormTypeCode: ft.Code, SectionName: "General", SectionOrder: 1,
			FieldLabel: "Inspector", FieldName: "inspector",
			FieldTypeName: "short text", Required: true, FieldOrder: 1,
			ValidationRules: "max_length=80",
		}},
	})
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	exported, err := bulk.New(st).Export(ctx, res.Form.Rev.Root)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	st = open(t, path)
	defer st.Close()

	reloaded, err := bulk.New(st).Export(ctx, res.Form.Rev.Root)
	if err != nil {
		t.Fatalf("export after reopen: %v", err)
	}
	if diff := cmp.Diff(exported, reloaded); diff != "" {
		t.Fatalf("rows changed across reopen (-before +after):\n%s", diff)
	}

	if err := st.View(ctx, func(tx store.Tx) error {
		form, err := tx.Forms().CurrentByRoot(ctx, res.Form.Rev.Root)
		if err != nil {
			return err
		}
		if form.Title != "Site Audit" || form.Rev.Version != 1 {
			t.Fatalf("unexpected form after reopen: %+v", form)
		}
		return nil
	}); err != nil {
		t.Fatalf("view: %v", err)
	}
}

func TestUpdateRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	st := open(t, filepath.Join(t.TempDir(), "forms.db"))
	defer st.Close()

	boom := errors.New("boom")
	dtID := model.NewID()
	err := st.Update(ctx, func(tx store.Tx) error {
		if err := tx.DataTypes().Insert(ctx, &model.DataType{
			ID: dtID, Name: "text", Kind: model.KindText,
		}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected the callback error, got %v", err)
	}

	if err := st.View(ctx, func(tx store.Tx) error {
		_, err := tx.DataTypes().Get(ctx, dtID)
		if !model.IsNotFound(err) {
			t.Fatalf("rolled-back insert must not be visible, got %v", err)
		}
		return nil
	}); err != nil {
		t.Fatalf("view: %v", err)
	}
}

func TestNameLookupsAreCaseInsensitive(t *testing.T) {
	ctx := context.Background()
	st := open(t, filepath.Join(t.TempDir(), "forms.db"))
	defer st.Close()

	reg := registry.New(st)
	if err := reg.SeedDefaults(ctx); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := reg.DefineFieldType(ctx, registry.Definition{Name: "Short Text", DataType: "text"}); err != nil {
		t.Fatalf("define: %v", err)
	}

	if err := st.View(ctx, func(tx store.Tx) error {
		ft, err := tx.FieldTypes().ByName(ctx, "short text")
		if err != nil {
			return err
		}
		if ft.Name != "Short Text" {
			t.Fatalf("lookup returned %q", ft.Name)
		}
		return nil
	}); err != nil {
		t.Fatalf("view: %v", err)
	}
}
