// Package structure maintains the section/field tree of one form version.
// Parent links between fields are weak references resolved through the field
// index; acyclicity and the nesting depth bound are enforced here with
// explicit ancestor walks.
package structure

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/nexgensis/go-forms/pkg/model"
	"github.com/nexgensis/go-forms/pkg/store"
)

// DefaultMaxDepth bounds field nesting when no explicit limit is configured.
const DefaultMaxDepth = 10

// Graph is a transaction-scoped view of one form version's structure.
type Graph struct {
	tx       store.Tx
	formID   uuid.UUID
	maxDepth int
}

// New binds a graph to a form version inside tx. maxDepth <= 0 selects
// DefaultMaxDepth.
func New(tx store.Tx, formID uuid.UUID, maxDepth int) *Graph {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	return &Graph{tx: tx, formID: formID, maxDepth: maxDepth}
}

// FieldInput describes a field to insert.
type FieldInput struct {
	SectionID uuid.UUID
	Label     string
	Name      string
	TypeID    uuid.UUID
	Required  bool
	Order     int
	Parent    *uuid.UUID
	Rules     model.RuleSet
}

// InsertSection adds a section. Name and order must be unique within the
// form.
func (g *Graph) InsertSection(ctx context.Context, name, description string, order int) (*model.Section, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, model.Validation([]model.Issue{{Location: "name", Message: "section name is required"}})
	}
	siblings, err := g.tx.Sections().ByForm(ctx, g.formID)
	if err != nil {
		return nil, err
	}
	var issues []model.Issue
	for _, s := range siblings {
		if strings.EqualFold(s.Name, name) {
			issues = append(issues, model.Issue{
				Location: "name",
				Message:  fmt.Sprintf("section %q already exists in this form", name),
			})
		}
		if s.Order == order {
			issues = append(issues, model.Issue{
				Location: "order",
				Message:  fmt.Sprintf("order %d is already used by section %q", order, s.Name),
			})
		}
	}
	if err := model.Validation(issues); err != nil {
		return nil, err
	}

	section := &model.Section{
		ID:          model.NewID(),
		FormID:      g.formID,
		Name:        name,
		Description: description,
		Order:       order,
	}
	if err := g.tx.Sections().Insert(ctx, section); err != nil {
		return nil, err
	}
	return section, nil
}

// InsertField adds a field after validating ownership, uniqueness, the
// parent reference, and the nesting depth bound.
func (g *Graph) InsertField(ctx context.Context, in FieldInput) (*model.Field, error) {
	in.Label = strings.TrimSpace(in.Label)
	in.Name = strings.TrimSpace(in.Name)

	var issues []model.Issue
	if in.Label == "" {
		issues = append(issues, model.Issue{Location: "label", Message: "field label is required"})
	}
	if in.Name == "" {
		issues = append(issues, model.Issue{Location: "name", Message: "field name is required"})
	}

	section, err := g.tx.Sections().Get(ctx, in.SectionID)
	if err != nil {
		return nil, err
	}
	if section.FormID != g.formID {
		return nil, model.Validation([]model.Issue{{
			Location: "section",
			Message:  "section does not belong to this form",
		}})
	}

	siblings, err := g.tx.Fields().BySection(ctx, in.SectionID)
	if err != nil {
		return nil, err
	}
	for _, f := range siblings {
		if in.Name != "" && strings.EqualFold(f.Name, in.Name) {
			issues = append(issues, model.Issue{
				Location: "name",
				Message:  fmt.Sprintf("field name %q already exists in section %q", in.Name, section.Name),
			})
		}
		if sameParent(f.Parent, in.Parent) && f.Order == in.Order {
			issues = append(issues, model.Issue{
				Location: "order",
				Message:  fmt.Sprintf("order %d is already used by field %q", in.Order, f.Name),
			})
		}
	}

	if in.Parent != nil {
		parent, err := g.tx.Fields().Get(ctx, *in.Parent)
		if err != nil {
			return nil, err
		}
		if parent.SectionID != in.SectionID {
			issues = append(issues, model.Issue{
				Location: "parent",
				Message:  "parent field must belong to the same section",
			})
		} else {
			depth, err := g.fieldDepth(ctx, parent, nil)
			if err != nil {
				return nil, err
			}
			if depth+1 > g.maxDepth {
				issues = append(issues, model.Issue{
					Location: "parent",
					Message:  fmt.Sprintf("nesting depth %d exceeds the maximum of %d", depth+1, g.maxDepth),
				})
			}
		}
	}

	if err := model.Validation(issues); err != nil {
		return nil, err
	}

	field := &model.Field{
		ID:        model.NewID(),
		SectionID: in.SectionID,
		Label:     in.Label,
		Name:      in.Name,
		TypeID:    in.TypeID,
		Required:  in.Required,
		Order:     in.Order,
		Parent:    in.Parent,
		Rules:     in.Rules,
	}
	if err := g.tx.Fields().Insert(ctx, field); err != nil {
		return nil, err
	}
	return field, nil
}

// SetFieldParent re-nests a field. The new parent must live in the same
// section and must not be the field itself or one of its descendants; the
// depth bound applies to the relocated subtree as a whole.
func (g *Graph) SetFieldParent(ctx context.Context, fieldID uuid.UUID, parent *uuid.UUID) error {
	field, err := g.tx.Fields().Get(ctx, fieldID)
	if err != nil {
		return err
	}
	if parent == nil {
		return g.tx.Fields().SetParent(ctx, fieldID, nil)
	}
	if *parent == fieldID {
		return model.Validation([]model.Issue{{
			Location: "parent",
			Message:  "a field cannot be its own parent",
		}})
	}

	newParent, err := g.tx.Fields().Get(ctx, *parent)
	if err != nil {
		return err
	}
	if newParent.SectionID != field.SectionID {
		return model.Validation([]model.Issue{{
			Location: "parent",
			Message:  "parent field must belong to the same section",
		}})
	}

	// reject if the candidate parent sits inside the field's own subtree
	onPath, err := g.ancestorChainContains(ctx, newParent, fieldID)
	if err != nil {
		return err
	}
	if onPath {
		return model.Validation([]model.Issue{{
			Location: "parent",
			Message:  "cannot nest a field under its own descendant",
		}})
	}

	parentDepth, err := g.fieldDepth(ctx, newParent, nil)
	if err != nil {
		return err
	}
	height, err := g.subtreeHeight(ctx, field)
	if err != nil {
		return err
	}
	if parentDepth+height > g.maxDepth {
		return model.Validation([]model.Issue{{
			Location: "parent",
			Message:  fmt.Sprintf("nesting depth %d exceeds the maximum of %d", parentDepth+height, g.maxDepth),
		}})
	}

	return g.tx.Fields().SetParent(ctx, fieldID, parent)
}

// ReorderSections reassigns order 1..n following ordered, which must name
// every section of the form exactly once. All writes happen in the enclosing
// transaction, so readers never observe a transient duplicate.
func (g *Graph) ReorderSections(ctx context.Context, ordered []uuid.UUID) error {
	sections, err := g.tx.Sections().ByForm(ctx, g.formID)
	if err != nil {
		return err
	}
	if err := checkPermutation(ordered, sectionIDs(sections), "sections"); err != nil {
		return err
	}
	for i, id := range ordered {
		if err := g.tx.Sections().UpdateOrder(ctx, id, i+1); err != nil {
			return err
		}
	}
	return nil
}

// ReorderFields reassigns order 1..n among the siblings of one scope: the
// top level of a section (parent == nil) or the children of one field.
func (g *Graph) ReorderFields(ctx context.Context, sectionID uuid.UUID, parent *uuid.UUID, ordered []uuid.UUID) error {
	section, err := g.tx.Sections().Get(ctx, sectionID)
	if err != nil {
		return err
	}
	if section.FormID != g.formID {
		return model.Validation([]model.Issue{{
			Location: "section",
			Message:  "section does not belong to this form",
		}})
	}
	fields, err := g.tx.Fields().BySection(ctx, sectionID)
	if err != nil {
		return err
	}
	var scope []uuid.UUID
	for _, f := range fields {
		if sameParent(f.Parent, parent) {
			scope = append(scope, f.ID)
		}
	}
	if err := checkPermutation(ordered, scope, "fields"); err != nil {
		return err
	}
	for i, id := range ordered {
		if err := g.tx.Fields().UpdateOrder(ctx, id, i+1); err != nil {
			return err
		}
	}
	return nil
}

// DeleteField removes a field and its entire nested subtree.
func (g *Graph) DeleteField(ctx context.Context, fieldID uuid.UUID) error {
	field, err := g.tx.Fields().Get(ctx, fieldID)
	if err != nil {
		return err
	}
	children, err := g.childrenOf(ctx, field)
	if err != nil {
		return err
	}
	for _, child := range children {
		if err := g.DeleteField(ctx, child.ID); err != nil {
			return err
		}
	}
	return g.tx.Fields().Delete(ctx, fieldID)
}

// DeleteSection removes a section and every field it owns.
func (g *Graph) DeleteSection(ctx context.Context, sectionID uuid.UUID) error {
	section, err := g.tx.Sections().Get(ctx, sectionID)
	if err != nil {
		return err
	}
	if section.FormID != g.formID {
		return model.Validation([]model.Issue{{
			Location: "section",
			Message:  "section does not belong to this form",
		}})
	}
	fields, err := g.tx.Fields().BySection(ctx, sectionID)
	if err != nil {
		return err
	}
	for _, f := range fields {
		if err := g.tx.Fields().Delete(ctx, f.ID); err != nil {
			return err
		}
	}
	return g.tx.Sections().Delete(ctx, sectionID)
}

// Snapshot serializes the structure as an ordered tree: sections by order,
// fields within a section by order, nested fields depth-first.
func (g *Graph) Snapshot(ctx context.Context) ([]model.SectionSnapshot, error) {
	sections, err := g.tx.Sections().ByForm(ctx, g.formID)
	if err != nil {
		return nil, err
	}
	typeNames := map[uuid.UUID]string{}

	out := make([]model.SectionSnapshot, 0, len(sections))
	for _, section := range sections {
		fields, err := g.tx.Fields().BySection(ctx, section.ID)
		if err != nil {
			return nil, err
		}
		byParent := map[uuid.UUID][]*model.Field{}
		var roots []*model.Field
		for _, f := range fields {
			if f.Parent == nil {
				roots = append(roots, f)
			} else {
				byParent[*f.Parent] = append(byParent[*f.Parent], f)
			}
		}
		tree, err := g.buildFieldTree(ctx, roots, byParent, typeNames)
		if err != nil {
			return nil, err
		}
		out = append(out, model.SectionSnapshot{
			Name:        section.Name,
			Description: section.Description,
			Order:       section.Order,
			Fields:      tree,
		})
	}
	return out, nil
}

func (g *Graph) buildFieldTree(ctx context.Context, fields []*model.Field, byParent map[uuid.UUID][]*model.Field, typeNames map[uuid.UUID]string) ([]model.FieldSnapshot, error) {
	if len(fields) == 0 {
		return nil, nil
	}
	out := make([]model.FieldSnapshot, 0, len(fields))
	for _, f := range fields {
		name, ok := typeNames[f.TypeID]
		if !ok {
			ft, err := g.tx.FieldTypes().Get(ctx, f.TypeID)
			if err != nil {
				return nil, err
			}
			name = ft.Name
			typeNames[f.TypeID] = name
		}
		children, err := g.buildFieldTree(ctx, byParent[f.ID], byParent, typeNames)
		if err != nil {
			return nil, err
		}
		out = append(out, model.FieldSnapshot{
			Label:    f.Label,
			Name:     f.Name,
			TypeName: name,
			Required: f.Required,
			Order:    f.Order,
			Rules:    f.Rules.Encode(),
			Fields:   children,
		})
	}
	return out, nil
}

// Materialize writes a snapshot's sections and fields under the graph's
// form. Inputs are expected to have passed ValidateSections; the insert
// paths still enforce every structural rule, so a bad snapshot fails the
// enclosing transaction rather than half-writing.
func (g *Graph) Materialize(ctx context.Context, sections []model.SectionSnapshot, resolveType func(name string) (uuid.UUID, error)) error {
	for _, sec := range sections {
		created, err := g.InsertSection(ctx, sec.Name, sec.Description, sec.Order)
		if err != nil {
			return err
		}
		if err := g.materializeFields(ctx, created.ID, nil, sec.Fields, resolveType); err != nil {
			return err
		}
	}
	return nil
}

func (g *Graph) materializeFields(ctx context.Context, sectionID uuid.UUID, parent *uuid.UUID, fields []model.FieldSnapshot, resolveType func(name string) (uuid.UUID, error)) error {
	for _, f := range fields {
		typeID, err := resolveType(f.TypeName)
		if err != nil {
			return err
		}
		ft, err := g.tx.FieldTypes().Get(ctx, typeID)
		if err != nil {
			return err
		}
		dt, err := g.tx.DataTypes().Get(ctx, ft.DataTypeID)
		if err != nil {
			return err
		}
		rules, err := model.ParseRuleSet(dt.Kind, f.Rules)
		if err != nil {
			return err
		}
		created, err := g.InsertField(ctx, FieldInput{
			SectionID: sectionID,
			Label:     f.Label,
			Name:      f.Name,
			TypeID:    typeID,
			Required:  f.Required,
			Order:     f.Order,
			Parent:    parent,
			Rules:     rules,
		})
		if err != nil {
			return err
		}
		if err := g.materializeFields(ctx, sectionID, &created.ID, f.Fields, resolveType); err != nil {
			return err
		}
	}
	return nil
}

// fieldDepth returns the 1-based depth of a field, walking the parent chain.
// stop guards against cycles introduced in the same walk.
func (g *Graph) fieldDepth(ctx context.Context, field *model.Field, stop map[uuid.UUID]bool) (int, error) {
	if stop == nil {
		stop = map[uuid.UUID]bool{}
	}
	depth := 1
	at := field
	for at.Parent != nil {
		if stop[at.ID] {
			return 0, model.Validation([]model.Issue{{
				Location: "parent",
				Message:  "field nesting contains a cycle",
			}})
		}
		stop[at.ID] = true
		next, err := g.tx.Fields().Get(ctx, *at.Parent)
		if err != nil {
			return 0, err
		}
		at = next
		depth++
	}
	return depth, nil
}

// ancestorChainContains walks up from start looking for target.
func (g *Graph) ancestorChainContains(ctx context.Context, start *model.Field, target uuid.UUID) (bool, error) {
	seen := map[uuid.UUID]bool{}
	at := start
	for {
		if at.ID == target {
			return true, nil
		}
		if at.Parent == nil || seen[at.ID] {
			return false, nil
		}
		seen[at.ID] = true
		next, err := g.tx.Fields().Get(ctx, *at.Parent)
		if err != nil {
			return false, err
		}
		at = next
	}
}

// subtreeHeight returns the height of the subtree rooted at field, the field
// itself counting as 1.
func (g *Graph) subtreeHeight(ctx context.Context, field *model.Field) (int, error) {
	children, err := g.childrenOf(ctx, field)
	if err != nil {
		return 0, err
	}
	max := 0
	for _, child := range children {
		h, err := g.subtreeHeight(ctx, child)
		if err != nil {
			return 0, err
		}
		if h > max {
			max = h
		}
	}
	return max + 1, nil
}

func (g *Graph) childrenOf(ctx context.Context, field *model.Field) ([]*model.Field, error) {
	fields, err := g.tx.Fields().BySection(ctx, field.SectionID)
	if err != nil {
		return nil, err
	}
	var out []*model.Field
	for _, f := range fields {
		if f.Parent != nil && *f.Parent == field.ID {
			out = append(out, f)
		}
	}
	return out, nil
}

func sameParent(a, b *uuid.UUID) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func sectionIDs(sections []*model.Section) []uuid.UUID {
	out := make([]uuid.UUID, len(sections))
	for i, s := range sections {
		out[i] = s.ID
	}
	return out
}

func checkPermutation(ordered, existing []uuid.UUID, what string) error {
	if len(ordered) != len(existing) {
		return model.Validation([]model.Issue{{
			Location: what,
			Message:  fmt.Sprintf("reorder must list all %d %s, got %d", len(existing), what, len(ordered)),
		}})
	}
	want := map[uuid.UUID]bool{}
	for _, id := range existing {
		want[id] = true
	}
	seen := map[uuid.UUID]bool{}
	for _, id := range ordered {
		if !want[id] || seen[id] {
			return model.Validation([]model.Issue{{
				Location: what,
				Message:  fmt.Sprintf("id %s is not a member of the scope or appears twice", id),
			}})
		}
		seen[id] = true
	}
	return nil
}
