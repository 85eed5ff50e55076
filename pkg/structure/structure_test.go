package structure_test

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"

	"github.com/nexgensis/go-forms/pkg/model"
	"github.com/nexgensis/go-forms/pkg/registry"
	"github.com/nexgensis/go-forms/pkg/store"
	"github.com/nexgensis/go-forms/pkg/store/memory"
	"github.com/nexgensis/go-forms/pkg/structure"
)

type fixture struct {
	st     store.Store
	formID uuid.UUID
	textID uuid.UUID
	numID  uuid.UUID
}

func setup(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	st := memory.New()

	fx := &fixture{st: st}
	err := st.Update(ctx, func(tx store.Tx) error {
		textDT := &model.DataType{ID: model.NewID(), Name: "text", Kind: model.KindText}
		numDT := &model.DataType{ID: model.NewID(), Name: "number", Kind: model.KindNumber}
		if err := tx.DataTypes().Insert(ctx, textDT); err != nil {
			return err
		}
		if err := tx.DataTypes().Insert(ctx, numDT); err != nil {
			return err
		}
		text := &model.FieldType{ID: model.NewID(), Name: "short text", DataTypeID: textDT.ID}
		num := &model.FieldType{ID: model.NewID(), Name: "integer", DataTypeID: numDT.ID}
		if err := tx.FieldTypes().Insert(ctx, text); err != nil {
			return err
		}
		if err := tx.FieldTypes().Insert(ctx, num); err != nil {
			return err
		}
		fx.textID = text.ID
		fx.numID = num.ID

		form := &model.Form{
			Rev: model.Revision{
				ID:      model.NewID(),
				Version: 1,
				Start:   time.Now().UTC(),
			},
			Code:  model.NewCode(model.CodePrefixForm),
			Title: "Site Inspection",
		}
		form.Rev.Root = form.Rev.ID
		fx.formID = form.Rev.ID
		return tx.Forms().Insert(ctx, form)
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	return fx
}

func (fx *fixture) graph(tx store.Tx) *structure.Graph {
	return structure.New(tx, fx.formID, 0)
}

func TestNestingAtDepthLimit(t *testing.T) {
	ctx := context.Background()
	fx := setup(t)

	err := fx.st.Update(ctx, func(tx store.Tx) error {
		g := fx.graph(tx)
		sec, err := g.InsertSection(ctx, "General", "", 1)
		if err != nil {
			return err
		}
		var parent *uuid.UUID
		for i := 1; i <= structure.DefaultMaxDepth; i++ {
			f, err := g.InsertField(ctx, structure.FieldInput{
				SectionID: sec.ID,
				Label:     fmt.Sprintf("Level %d", i),
				Name:      fmt.Sprintf("level_%d", i),
				TypeID:    fx.textID,
				Order:     1,
				Parent:    parent,
			})
			if err != nil {
				return fmt.Errorf("depth %d: %w", i, err)
			}
			parent = &f.ID
		}

		// one past the limit must be rejected
		_, err = g.InsertField(ctx, structure.FieldInput{
			SectionID: sec.ID,
			Label:     "Too Deep",
			Name:      "too_deep",
			TypeID:    fx.textID,
			Order:     1,
			Parent:    parent,
		})
		verr, ok := model.AsValidation(err)
		if !ok {
			return fmt.Errorf("expected ValidationError, got %v", err)
		}
		if !strings.Contains(verr.Issues[0].Message, "depth") {
			return fmt.Errorf("issue should name the depth bound: %v", verr.Issues[0])
		}
		return nil
	})
	if err != nil {
		t.Fatalf("%v", err)
	}
}

func TestSetParentRejectsOwnDescendant(t *testing.T) {
	ctx := context.Background()
	fx := setup(t)

	var top, mid, leaf uuid.UUID
	err := fx.st.Update(ctx, func(tx store.Tx) error {
		g := fx.graph(tx)
		sec, err := g.InsertSection(ctx, "General", "", 1)
		if err != nil {
			return err
		}
		a, err := g.InsertField(ctx, structure.FieldInput{SectionID: sec.ID, Label: "A", Name: "a", TypeID: fx.textID, Order: 1})
		if err != nil {
			return err
		}
		b, err := g.InsertField(ctx, structure.FieldInput{SectionID: sec.ID, Label: "B", Name: "b", TypeID: fx.textID, Order: 1, Parent: &a.ID})
		if err != nil {
			return err
		}
		c, err := g.InsertField(ctx, structure.FieldInput{SectionID: sec.ID, Label: "C", Name: "c", TypeID: fx.textID, Order: 1, Parent: &b.ID})
		if err != nil {
			return err
		}
		top, mid, leaf = a.ID, b.ID, c.ID
		return nil
	})
	if err != nil {
		t.Fatalf("seed tree: %v", err)
	}

	var before []model.SectionSnapshot
	if err := fx.st.View(ctx, func(tx store.Tx) error {
		var err error
		before, err = fx.graph(tx).Snapshot(ctx)
		return err
	}); err != nil {
		t.Fatalf("snapshot: %v", err)
	}

	err = fx.st.Update(ctx, func(tx store.Tx) error {
		return fx.graph(tx).SetFieldParent(ctx, top, &leaf)
	})
	if _, ok := model.AsValidation(err); !ok {
		t.Fatalf("expected ValidationError, got %v", err)
	}

	var after []model.SectionSnapshot
	if err := fx.st.View(ctx, func(tx store.Tx) error {
		var err error
		after, err = fx.graph(tx).Snapshot(ctx)
		return err
	}); err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if diff := cmp.Diff(before, after); diff != "" {
		t.Fatalf("failed re-nest must not change the structure (-before +after):\n%s", diff)
	}

	// self-parent is equally invalid
	err = fx.st.Update(ctx, func(tx store.Tx) error {
		return fx.graph(tx).SetFieldParent(ctx, mid, &mid)
	})
	if _, ok := model.AsValidation(err); !ok {
		t.Fatalf("expected ValidationError for self-parent, got %v", err)
	}
}

func TestReorderSectionsDense(t *testing.T) {
	ctx := context.Background()
	fx := setup(t)

	var ids []uuid.UUID
	err := fx.st.Update(ctx, func(tx store.Tx) error {
		g := fx.graph(tx)
		for i, name := range []string{"First", "Second", "Third"} {
			sec, err := g.InsertSection(ctx, name, "", i+1)
			if err != nil {
				return err
			}
			ids = append(ids, sec.ID)
		}
		return g.ReorderSections(ctx, []uuid.UUID{ids[2], ids[0], ids[1]})
	})
	if err != nil {
		t.Fatalf("reorder: %v", err)
	}

	if err := fx.st.View(ctx, func(tx store.Tx) error {
		sections, err := tx.Sections().ByForm(ctx, fx.formID)
		if err != nil {
			return err
		}
		got := make([]string, len(sections))
		for i, s := range sections {
			got[i] = fmt.Sprintf("%d:%s", s.Order, s.Name)
		}
		want := []string{"1:Third", "2:First", "3:Second"}
		if diff := cmp.Diff(want, got); diff != "" {
			return fmt.Errorf("order mismatch (-want +got):\n%s", diff)
		}
		return nil
	}); err != nil {
		t.Fatalf("%v", err)
	}

	// an id listed twice is not a permutation
	err = fx.st.Update(ctx, func(tx store.Tx) error {
		return fx.graph(tx).ReorderSections(ctx, []uuid.UUID{ids[0], ids[0], ids[1]})
	})
	if _, ok := model.AsValidation(err); !ok {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestDuplicateOrderWithinScopeRejected(t *testing.T) {
	ctx := context.Background()
	fx := setup(t)

	err := fx.st.Update(ctx, func(tx store.Tx) error {
		g := fx.graph(tx)
		sec, err := g.InsertSection(ctx, "General", "", 1)
		if err != nil {
			return err
		}
		if _, err := g.InsertField(ctx, structure.FieldInput{SectionID: sec.ID, Label: "A", Name: "a", TypeID: fx.textID, Order: 1}); err != nil {
			return err
		}
		_, err = g.InsertField(ctx, structure.FieldInput{SectionID: sec.ID, Label: "B", Name: "b", TypeID: fx.textID, Order: 1})
		if _, ok := model.AsValidation(err); !ok {
			return fmt.Errorf("expected ValidationError for duplicate order, got %v", err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("%v", err)
	}
}

func TestDeleteFieldCascadesSubtree(t *testing.T) {
	ctx := context.Background()
	fx := setup(t)

	var secID, parentID uuid.UUID
	err := fx.st.Update(ctx, func(tx store.Tx) error {
		g := fx.graph(tx)
		sec, err := g.InsertSection(ctx, "General", "", 1)
		if err != nil {
			return err
		}
		secID = sec.ID
		group, err := g.InsertField(ctx, structure.FieldInput{SectionID: sec.ID, Label: "Group", Name: "group", TypeID: fx.textID, Order: 1})
		if err != nil {
			return err
		}
		parentID = group.ID
		child, err := g.InsertField(ctx, structure.FieldInput{SectionID: sec.ID, Label: "Child", Name: "child", TypeID: fx.textID, Order: 1, Parent: &group.ID})
		if err != nil {
			return err
		}
		if _, err := g.InsertField(ctx, structure.FieldInput{SectionID: sec.ID, Label: "Grandchild", Name: "grandchild", TypeID: fx.numID, Order: 1, Parent: &child.ID}); err != nil {
			return err
		}
		_, err = g.InsertField(ctx, structure.FieldInput{SectionID: sec.ID, Label: "Sibling", Name: "sibling", TypeID: fx.textID, Order: 2})
		return err
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	if err := fx.st.Update(ctx, func(tx store.Tx) error {
		return fx.graph(tx).DeleteField(ctx, parentID)
	}); err != nil {
		t.Fatalf("delete: %v", err)
	}

	if err := fx.st.View(ctx, func(tx store.Tx) error {
		fields, err := tx.Fields().BySection(ctx, secID)
		if err != nil {
			return err
		}
		if len(fields) != 1 || fields[0].Name != "sibling" {
			return fmt.Errorf("expected only the sibling to survive, got %d fields", len(fields))
		}
		return nil
	}); err != nil {
		t.Fatalf("%v", err)
	}
}

func TestSnapshotMaterializeRoundTrip(t *testing.T) {
	ctx := context.Background()
	fx := setup(t)

	err := fx.st.Update(ctx, func(tx store.Tx) error {
		g := fx.graph(tx)
		sec, err := g.InsertSection(ctx, "Measurements", "instrument readings", 1)
		if err != nil {
			return err
		}
		rules, err := model.ParseRuleSet(model.KindNumber, map[string]string{"min": "0", "max": "100"})
		if err != nil {
			return err
		}
		head, err := g.InsertField(ctx, structure.FieldInput{SectionID: sec.ID, Label: "Readings", Name: "readings", TypeID: fx.textID, Order: 1})
		if err != nil {
			return err
		}
		_, err = g.InsertField(ctx, structure.FieldInput{
			SectionID: sec.ID, Label: "Humidity", Name: "humidity",
			TypeID: fx.numID, Required: true, Order: 1, Parent: &head.ID, Rules: rules,
		})
		return err
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	var snap []model.SectionSnapshot
	if err := fx.st.View(ctx, func(tx store.Tx) error {
		var err error
		snap, err = fx.graph(tx).Snapshot(ctx)
		return err
	}); err != nil {
		t.Fatalf("snapshot: %v", err)
	}

	// rebuild under a second form and compare the snapshots
	var otherForm uuid.UUID
	err = fx.st.Update(ctx, func(tx store.Tx) error {
		form := &model.Form{
			Rev:   model.Revision{ID: model.NewID(), Version: 1, Start: time.Now().UTC()},
			Code:  model.NewCode(model.CodePrefixForm),
			Title: "Copy",
		}
		form.Rev.Root = form.Rev.ID
		otherForm = form.Rev.ID
		if err := tx.Forms().Insert(ctx, form); err != nil {
			return err
		}
		g := structure.New(tx, otherForm, 0)
		resolve := func(name string) (uuid.UUID, error) {
			ft, err := tx.FieldTypes().ByName(ctx, name)
			if err != nil {
				return uuid.Nil, err
			}
			return ft.ID, nil
		}
		return g.Materialize(ctx, snap, resolve)
	})
	if err != nil {
		t.Fatalf("materialize: %v", err)
	}

	var rebuilt []model.SectionSnapshot
	if err := fx.st.View(ctx, func(tx store.Tx) error {
		var err error
		rebuilt, err = structure.New(tx, otherForm, 0).Snapshot(ctx)
		return err
	}); err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if diff := cmp.Diff(snap, rebuilt); diff != "" {
		t.Fatalf("round trip mismatch (-original +rebuilt):\n%s", diff)
	}
}

func TestValidateSectionsCollectsEveryIssue(t *testing.T) {
	ctx := context.Background()
	fx := setup(t)

	bad := []model.SectionSnapshot{
		{Name: "General", Order: 1, Fields: []model.FieldSnapshot{
			{Label: "A", Name: "a", TypeName: "short text", Order: 1},
			{Label: "", Name: "a", TypeName: "no such type", Order: 1},
		}},
		{Name: "general", Order: 1},
	}

	var issues []model.Issue
	if err := fx.st.View(ctx, func(tx store.Tx) error {
		issues = structure.ValidateSections(ctx, registry.NewLookup(tx), bad, 0)
		return nil
	}); err != nil {
		t.Fatalf("view: %v", err)
	}

	want := []string{
		"sections[0].fields[1].label",
		"sections[0].fields[1].name",
		"sections[0].fields[1].order",
		"sections[0].fields[1].type",
		"sections[1].name",
		"sections[1].order",
	}
	var got []string
	for _, is := range issues {
		got = append(got, is.Location)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("issue locations (-want +got):\n%s", diff)
	}
}
