// Package bulk translates flat tabular rows to and from form structure.
// Import validates every row before touching the store and applies the whole
// batch as one version transition; any bad row rejects the file with the
// complete issue list. Export walks the current structure and emits rows in
// the canonical depth-first order, so exporting an imported file reproduces
// it.
package bulk

import (
	"context"
	"fmt"
	"html"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"

	"github.com/nexgensis/go-forms/pkg/lineage"
	"github.com/nexgensis/go-forms/pkg/model"
	"github.com/nexgensis/go-forms/pkg/registry"
	"github.com/nexgensis/go-forms/pkg/store"
	"github.com/nexgensis/go-forms/pkg/structure"
)

// Row is one line of an import or export file. Parent linkage is by field
// name within the same section; an empty ParentFieldName means top level.
type Row struct {
	FormTypeCode    string `json:"form_type_code"`
	SectionName     string `json:"section_name"`
	SectionOrder    int    `json:"section_order"`
	FieldLabel      string `json:"field_label"`
	FieldName       string `json:"field_name"`
	FieldTypeName   string `json:"field_type_name"`
	DataTypeName    string `json:"data_type_name"`
	Required        bool   `json:"required"`
	FieldOrder      int    `json:"field_order"`
	ParentFieldName string `json:"parent_field_name,omitempty"`
	ValidationRules string `json:"validation_rules,omitempty"`
}

// Request is one import batch. The row schema carries no form title, so the
// envelope supplies it together with the versioning target: TargetRoot nil
// creates a new lineage, otherwise the batch becomes the next version of
// that lineage and BaseVersion is the optimistic concurrency check.
type Request struct {
	Title       string
	Description string
	TargetRoot  *uuid.UUID
	BaseVersion int
	Rows        []Row
}

// Result reports what an import wrote.
type Result struct {
	Form     *model.Form
	Sections int
	Fields   int
}

// Engine performs imports and exports over a store.
type Engine struct {
	st       store.Store
	maxDepth int
	now      lineage.Clock
	policy   *bluemonday.Policy
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock replaces the time source.
func WithClock(now lineage.Clock) Option {
	return func(e *Engine) { e.now = now }
}

// WithMaxDepth overrides the field nesting bound.
func WithMaxDepth(depth int) Option {
	return func(e *Engine) { e.maxDepth = depth }
}

// New builds an import/export engine.
func New(st store.Store, opts ...Option) *Engine {
	e := &Engine{
		st:       st,
		maxDepth: structure.DefaultMaxDepth,
		now:      func() time.Time { return time.Now().UTC() },
		policy:   bluemonday.StrictPolicy(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// clean strips markup from free-text cells. Import files come from
// spreadsheets edited outside the system, so labels and names are treated as
// untrusted.
func (e *Engine) clean(s string) string {
	return strings.TrimSpace(html.UnescapeString(e.policy.Sanitize(s)))
}

// Import validates req completely, then writes the form, its sections and
// its fields in a single transaction. A non-nil error means nothing was
// persisted; ValidationError locations cite "rows[N].column".
func (e *Engine) Import(ctx context.Context, req Request) (*Result, error) {
	title := e.clean(req.Title)
	description := e.clean(req.Description)

	var out *Result
	err := e.st.Update(ctx, func(tx store.Tx) error {
		issues, typeCode, sections := e.analyze(ctx, tx, title, req.Rows)
		if err := model.Validation(issues); err != nil {
			return err
		}

		ft, err := tx.FormTypes().CurrentByCode(ctx, typeCode)
		if err != nil {
			return err
		}

		eng := lineage.New(tx.Forms(), "form",
			func(f *model.Form) *model.Form { return f.Clone() },
			lineage.WithClock[*model.Form](e.now))

		var form *model.Form
		if req.TargetRoot == nil {
			if _, err := tx.Forms().CurrentByTitle(ctx, title); err == nil {
				return model.Validation([]model.Issue{{
					Location: "title",
					Message:  "a form titled " + title + " already exists",
				}})
			} else if !model.IsNotFound(err) {
				return err
			}
			form = &model.Form{
				Code:        model.NewCode(model.CodePrefixForm),
				Title:       title,
				Description: description,
				TypeRoot:    ft.Rev.Root,
				Completed:   true,
			}
			if err := eng.CreateRoot(ctx, form); err != nil {
				return err
			}
		} else {
			form, err = eng.CreateVersion(ctx, *req.TargetRoot, req.BaseVersion, func(f *model.Form) {
				f.Title = title
				f.Description = description
				f.TypeRoot = ft.Rev.Root
				f.Completed = true
			})
			if err != nil {
				return err
			}
		}

		g := structure.New(tx, form.Rev.ID, e.maxDepth)
		resolve := func(name string) (uuid.UUID, error) {
			row, err := tx.FieldTypes().ByName(ctx, name)
			if err != nil {
				return uuid.Nil, err
			}
			return row.ID, nil
		}
		if err := g.Materialize(ctx, sections, resolve); err != nil {
			return err
		}

		fields := 0
		for _, s := range sections {
			fields += countFields(s.Fields)
		}
		out = &Result{Form: form, Sections: len(sections), Fields: fields}
		return nil
	})
	return out, err
}

// analyze validates the batch row by row and, when clean, assembles the
// section tree in canonical order. It returns every issue found, not just
// the first.
func (e *Engine) analyze(ctx context.Context, tx store.Tx, title string, rows []Row) ([]model.Issue, string, []model.SectionSnapshot) {
	var issues []model.Issue
	if title == "" {
		issues = append(issues, model.Issue{Location: "title", Message: "form title is required"})
	}
	if len(rows) == 0 {
		issues = append(issues, model.Issue{Location: "rows", Message: "import file has no rows"})
		return issues, "", nil
	}
	lk := registry.NewLookup(tx)

	typeCode := ""
	badCodes := map[string]bool{}
	type rowInfo struct {
		idx  int
		row  Row
		kind model.Kind
		ok   bool
	}
	type sectionInfo struct {
		name  string
		order int
		first int
		rows  []*rowInfo
		byKey map[string]*rowInfo
	}
	sections := map[string]*sectionInfo{}
	var sectionSeq []*sectionInfo
	sectionOrders := map[int]string{}

	for i := range rows {
		r := rows[i]
		r.SectionName = e.clean(r.SectionName)
		r.FieldLabel = e.clean(r.FieldLabel)
		r.FieldName = e.clean(r.FieldName)
		r.ParentFieldName = e.clean(r.ParentFieldName)
		r.FormTypeCode = strings.TrimSpace(r.FormTypeCode)
		r.FieldTypeName = strings.TrimSpace(r.FieldTypeName)
		r.DataTypeName = strings.TrimSpace(r.DataTypeName)
		at := fmt.Sprintf("rows[%d]", i)

		if r.FormTypeCode == "" {
			issues = append(issues, model.Issue{Location: at + ".form_type_code", Message: "form type code is required"})
		} else if typeCode == "" {
			if badCodes[r.FormTypeCode] {
				// already reported once, stay quiet for the rest of the file
			} else if _, err := tx.FormTypes().CurrentByCode(ctx, r.FormTypeCode); err != nil {
				badCodes[r.FormTypeCode] = true
				if model.IsNotFound(err) {
					issues = append(issues, model.Issue{
						Location: at + ".form_type_code",
						Message:  "unknown form type code " + r.FormTypeCode,
					})
				} else {
					issues = append(issues, model.Issue{Location: at + ".form_type_code", Message: err.Error()})
				}
			} else {
				typeCode = r.FormTypeCode
			}
		} else if r.FormTypeCode != typeCode {
			issues = append(issues, model.Issue{
				Location: at + ".form_type_code",
				Message:  fmt.Sprintf("all rows must share one form type code, got %s after %s", r.FormTypeCode, typeCode),
			})
		}

		if r.SectionName == "" {
			issues = append(issues, model.Issue{Location: at + ".section_name", Message: "section name is required"})
			continue
		}
		secKey := strings.ToLower(r.SectionName)
		sec, ok := sections[secKey]
		if !ok {
			if prev, clash := sectionOrders[r.SectionOrder]; clash {
				issues = append(issues, model.Issue{
					Location: at + ".section_order",
					Message:  fmt.Sprintf("order %d is already used by section %q", r.SectionOrder, prev),
				})
			}
			sectionOrders[r.SectionOrder] = r.SectionName
			sec = &sectionInfo{name: r.SectionName, order: r.SectionOrder, first: i, byKey: map[string]*rowInfo{}}
			sections[secKey] = sec
			sectionSeq = append(sectionSeq, sec)
		} else if sec.order != r.SectionOrder {
			issues = append(issues, model.Issue{
				Location: at + ".section_order",
				Message:  fmt.Sprintf("section %q was first declared with order %d", sec.name, sec.order),
			})
		}

		if r.FieldLabel == "" {
			issues = append(issues, model.Issue{Location: at + ".field_label", Message: "field label is required"})
		}
		if r.FieldName == "" {
			issues = append(issues, model.Issue{Location: at + ".field_name", Message: "field name is required"})
			continue
		}
		fieldKey := strings.ToLower(r.FieldName)
		if prev, dup := sec.byKey[fieldKey]; dup {
			issues = append(issues, model.Issue{
				Location: at + ".field_name",
				Message:  fmt.Sprintf("field name %q already used by rows[%d]", r.FieldName, prev.idx),
			})
			continue
		}

		info := &rowInfo{idx: i, row: r}
		if r.FieldTypeName == "" {
			issues = append(issues, model.Issue{Location: at + ".field_type_name", Message: "field type name is required"})
		} else {
			_, dt, err := lk.FieldType(ctx, r.FieldTypeName)
			switch {
			case model.IsNotFound(err):
				issues = append(issues, model.Issue{
					Location: at + ".field_type_name",
					Message:  fmt.Sprintf("unknown field type %q", r.FieldTypeName),
				})
			case err != nil:
				issues = append(issues, model.Issue{Location: at + ".field_type_name", Message: err.Error()})
			default:
				info.kind = dt.Kind
				info.ok = true
				if r.DataTypeName != "" && !strings.EqualFold(r.DataTypeName, dt.Name) {
					issues = append(issues, model.Issue{
						Location: at + ".data_type_name",
						Message:  fmt.Sprintf("field type %q has data type %q, not %q", r.FieldTypeName, dt.Name, r.DataTypeName),
					})
				}
			}
		}

		if info.ok && r.ValidationRules != "" {
			ruleMap, err := DecodeRules(r.ValidationRules)
			if err != nil {
				issues = append(issues, model.Issue{Location: at + ".validation_rules", Message: err.Error()})
			} else if _, err := model.ParseRuleSet(info.kind, ruleMap); err != nil {
				if verr, ok := model.AsValidation(err); ok {
					issues = append(issues, model.PrefixIssues(at+".validation_rules", verr.Issues)...)
				} else {
					issues = append(issues, model.Issue{Location: at + ".validation_rules", Message: err.Error()})
				}
			}
		}

		sec.rows = append(sec.rows, info)
		sec.byKey[fieldKey] = info
	}

	// parent linkage, cycles, sibling order clashes and depth per section
	for _, sec := range sectionSeq {
		for _, info := range sec.rows {
			parent := info.row.ParentFieldName
			if parent == "" {
				continue
			}
			at := fmt.Sprintf("rows[%d].parent_field_name", info.idx)
			p, ok := sec.byKey[strings.ToLower(parent)]
			if !ok {
				issues = append(issues, model.Issue{
					Location: at,
					Message:  fmt.Sprintf("parent field %q is not defined in section %q", parent, sec.name),
				})
				continue
			}
			if p == info {
				issues = append(issues, model.Issue{Location: at, Message: "a field cannot be its own parent"})
				continue
			}
			depth := 1
			seen := map[*rowInfo]bool{info: true}
			for cur := p; cur != nil; {
				if seen[cur] {
					issues = append(issues, model.Issue{Location: at, Message: "parent chain contains a cycle"})
					depth = -1
					break
				}
				seen[cur] = true
				depth++
				next := cur.row.ParentFieldName
				if next == "" {
					break
				}
				cur = sec.byKey[strings.ToLower(next)]
			}
			if depth > e.maxDepth {
				issues = append(issues, model.Issue{
					Location: at,
					Message:  fmt.Sprintf("nesting depth %d exceeds the maximum of %d", depth, e.maxDepth),
				})
			}
		}

		scopeOrders := map[string]map[int]int{}
		for _, info := range sec.rows {
			scope := strings.ToLower(info.row.ParentFieldName)
			if scopeOrders[scope] == nil {
				scopeOrders[scope] = map[int]int{}
			}
			if prev, clash := scopeOrders[scope][info.row.FieldOrder]; clash {
				issues = append(issues, model.Issue{
					Location: fmt.Sprintf("rows[%d].field_order", info.idx),
					Message:  fmt.Sprintf("order %d is already used by rows[%d] in the same scope", info.row.FieldOrder, prev),
				})
			} else {
				scopeOrders[scope][info.row.FieldOrder] = info.idx
			}
		}
	}
	if len(issues) > 0 {
		return issues, "", nil
	}

	// assemble the canonical tree
	sort.Slice(sectionSeq, func(i, j int) bool { return sectionSeq[i].order < sectionSeq[j].order })
	out := make([]model.SectionSnapshot, 0, len(sectionSeq))
	for _, sec := range sectionSeq {
		children := map[string][]*rowInfo{}
		for _, info := range sec.rows {
			key := strings.ToLower(info.row.ParentFieldName)
			children[key] = append(children[key], info)
		}
		for _, group := range children {
			sort.Slice(group, func(i, j int) bool { return group[i].row.FieldOrder < group[j].row.FieldOrder })
		}
		var build func(parent string) []model.FieldSnapshot
		build = func(parent string) []model.FieldSnapshot {
			group := children[parent]
			if len(group) == 0 {
				return nil
			}
			fields := make([]model.FieldSnapshot, 0, len(group))
			for _, info := range group {
				rules, _ := DecodeRules(info.row.ValidationRules)
				fields = append(fields, model.FieldSnapshot{
					Label:    info.row.FieldLabel,
					Name:     info.row.FieldName,
					TypeName: info.row.FieldTypeName,
					Required: info.row.Required,
					Order:    info.row.FieldOrder,
					Rules:    rules,
					Fields:   build(strings.ToLower(info.row.FieldName)),
				})
			}
			return fields
		}
		out = append(out, model.SectionSnapshot{Name: sec.name, Order: sec.order, Fields: build("")})
	}
	return nil, typeCode, out
}

// Export emits the current version of a form lineage as rows in canonical
// order: sections by order, fields depth-first by order within each scope.
func (e *Engine) Export(ctx context.Context, root uuid.UUID) ([]Row, error) {
	var out []Row
	err := e.st.View(ctx, func(tx store.Tx) error {
		form, err := tx.Forms().CurrentByRoot(ctx, root)
		if err != nil {
			return err
		}
		ft, err := tx.FormTypes().CurrentByRoot(ctx, form.TypeRoot)
		if err != nil {
			return err
		}
		sections, err := structure.New(tx, form.Rev.ID, e.maxDepth).Snapshot(ctx)
		if err != nil {
			return err
		}
		lk := registry.NewLookup(tx)
		for _, sec := range sections {
			var walk func(fields []model.FieldSnapshot, parent string) error
			walk = func(fields []model.FieldSnapshot, parent string) error {
				for _, f := range fields {
					_, dt, err := lk.FieldType(ctx, f.TypeName)
					if err != nil {
						return err
					}
					out = append(out, Row{
						FormTypeCode:    ft.Code,
						SectionName:     sec.Name,
						SectionOrder:    sec.Order,
						FieldLabel:      f.Label,
						FieldName:       f.Name,
						FieldTypeName:   f.TypeName,
						DataTypeName:    dt.Name,
						Required:        f.Required,
						FieldOrder:      f.Order,
						ParentFieldName: parent,
						ValidationRules: EncodeRules(f.Rules),
					})
					if err := walk(f.Fields, f.Name); err != nil {
						return err
					}
				}
				return nil
			}
			if err := walk(sec.Fields, ""); err != nil {
				return err
			}
		}
		return nil
	})
	return out, err
}

// DecodeRules parses the "key=value;key=value" cell format. Empty input
// yields nil.
func DecodeRules(s string) (map[string]string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	out := map[string]string{}
	for _, pair := range strings.Split(s, ";") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		key, value, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		if !ok || key == "" {
			return nil, fmt.Errorf("bulk: malformed rule %q, want key=value", pair)
		}
		if _, dup := out[key]; dup {
			return nil, fmt.Errorf("bulk: rule key %q appears twice", key)
		}
		out[key] = value
	}
	return out, nil
}

// EncodeRules renders rules with keys sorted, the inverse of DecodeRules.
func EncodeRules(rules map[string]string) string {
	if len(rules) == 0 {
		return ""
	}
	keys := make([]string, 0, len(rules))
	for k := range rules {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "=" + rules[k]
	}
	return strings.Join(parts, ";")
}

func countFields(fields []model.FieldSnapshot) int {
	n := len(fields)
	for _, f := range fields {
		n += countFields(f.Fields)
	}
	return n
}
