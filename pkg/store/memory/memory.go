// Package memory provides an in-process Store implementation. Writes run
// under a single mutex against a deep copy of the dataset, which is swapped
// in only when the transaction callback succeeds, so rollback is free and
// two concurrent Update calls serialize fully.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nexgensis/go-forms/pkg/model"
	"github.com/nexgensis/go-forms/pkg/store"
)

type dataset struct {
	formTypes  map[uuid.UUID]*model.FormType
	forms      map[uuid.UUID]*model.Form
	sections   map[uuid.UUID]*model.Section
	fields     map[uuid.UUID]*model.Field
	dataTypes  map[uuid.UUID]*model.DataType
	fieldTypes map[uuid.UUID]*model.FieldType
	drafts     map[uuid.UUID]*model.Draft
}

func newDataset() *dataset {
	return &dataset{
		formTypes:  map[uuid.UUID]*model.FormType{},
		forms:      map[uuid.UUID]*model.Form{},
		sections:   map[uuid.UUID]*model.Section{},
		fields:     map[uuid.UUID]*model.Field{},
		dataTypes:  map[uuid.UUID]*model.DataType{},
		fieldTypes: map[uuid.UUID]*model.FieldType{},
		drafts:     map[uuid.UUID]*model.Draft{},
	}
}

func (d *dataset) clone() *dataset {
	out := newDataset()
	for id, row := range d.formTypes {
		out.formTypes[id] = row.Clone()
	}
	for id, row := range d.forms {
		out.forms[id] = row.Clone()
	}
	for id, row := range d.sections {
		out.sections[id] = row.Clone()
	}
	for id, row := range d.fields {
		out.fields[id] = row.Clone()
	}
	for id, row := range d.dataTypes {
		c := *row
		out.dataTypes[id] = &c
	}
	for id, row := range d.fieldTypes {
		out.fieldTypes[id] = row.Clone()
	}
	for id, row := range d.drafts {
		out.drafts[id] = row.Clone()
	}
	return out
}

// Store is the in-memory implementation of store.Store.
type Store struct {
	mu   sync.RWMutex
	data *dataset
}

// New returns an empty store.
func New() *Store {
	return &Store{data: newDataset()}
}

// View runs fn against a read-only transaction.
func (s *Store) View(ctx context.Context, fn func(store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(&tx{ds: s.data})
}

// Update runs fn against a copy of the dataset and commits it atomically on
// success.
func (s *Store) Update(ctx context.Context, fn func(store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	work := s.data.clone()
	if err := fn(&tx{ds: work}); err != nil {
		return err
	}
	s.data = work
	return nil
}

// Close is a no-op.
func (s *Store) Close() error { return nil }

type tx struct {
	ds *dataset
}

func (t *tx) FormTypes() store.FormTypeRepo   { return &formTypeRepo{ds: t.ds} }
func (t *tx) Forms() store.FormRepo           { return &formRepo{ds: t.ds} }
func (t *tx) Sections() store.SectionRepo     { return &sectionRepo{ds: t.ds} }
func (t *tx) Fields() store.FieldRepo         { return &fieldRepo{ds: t.ds} }
func (t *tx) DataTypes() store.DataTypeRepo   { return &dataTypeRepo{ds: t.ds} }
func (t *tx) FieldTypes() store.FieldTypeRepo { return &fieldTypeRepo{ds: t.ds} }
func (t *tx) Drafts() store.DraftRepo         { return &draftRepo{ds: t.ds} }

// --- form types ---

type formTypeRepo struct {
	ds *dataset
}

func (r *formTypeRepo) Insert(_ context.Context, row *model.FormType) error {
	r.ds.formTypes[row.Rev.ID] = row.Clone()
	return nil
}

func (r *formTypeRepo) Get(_ context.Context, id uuid.UUID) (*model.FormType, error) {
	row, ok := r.ds.formTypes[id]
	if !ok {
		return nil, model.NotFound("form type", id)
	}
	return row.Clone(), nil
}

func (r *formTypeRepo) CurrentByRoot(_ context.Context, root uuid.UUID) (*model.FormType, error) {
	for _, row := range r.ds.formTypes {
		if row.Rev.Root == root && row.Rev.Current() {
			return row.Clone(), nil
		}
	}
	return nil, model.NotFound("form type", root)
}

func (r *formTypeRepo) LineageByRoot(_ context.Context, root uuid.UUID) ([]*model.FormType, error) {
	var out []*model.FormType
	for _, row := range r.ds.formTypes {
		if row.Rev.Root == root {
			out = append(out, row.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Rev.Version < out[j].Rev.Version })
	return out, nil
}

func (r *formTypeRepo) SetEnd(_ context.Context, id uuid.UUID, end time.Time) error {
	row, ok := r.ds.formTypes[id]
	if !ok {
		return model.NotFound("form type", id)
	}
	e := end
	row.Rev.End = &e
	return nil
}

func (r *formTypeRepo) CurrentByCode(_ context.Context, code string) (*model.FormType, error) {
	for _, row := range r.ds.formTypes {
		if row.Rev.Current() && strings.EqualFold(row.Code, code) {
			return row.Clone(), nil
		}
	}
	return nil, &model.NotFoundError{Entity: "form type", Ref: code}
}

func (r *formTypeRepo) CurrentAll(_ context.Context) ([]*model.FormType, error) {
	var out []*model.FormType
	for _, row := range r.ds.formTypes {
		if row.Rev.Current() {
			out = append(out, row.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// --- forms ---

type formRepo struct {
	ds *dataset
}

func (r *formRepo) Insert(_ context.Context, row *model.Form) error {
	r.ds.forms[row.Rev.ID] = row.Clone()
	return nil
}

func (r *formRepo) Get(_ context.Context, id uuid.UUID) (*model.Form, error) {
	row, ok := r.ds.forms[id]
	if !ok {
		return nil, model.NotFound("form", id)
	}
	return row.Clone(), nil
}

func (r *formRepo) CurrentByRoot(_ context.Context, root uuid.UUID) (*model.Form, error) {
	for _, row := range r.ds.forms {
		if row.Rev.Root == root && row.Rev.Current() {
			return row.Clone(), nil
		}
	}
	return nil, model.NotFound("form", root)
}

func (r *formRepo) LineageByRoot(_ context.Context, root uuid.UUID) ([]*model.Form, error) {
	var out []*model.Form
	for _, row := range r.ds.forms {
		if row.Rev.Root == root {
			out = append(out, row.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Rev.Version < out[j].Rev.Version })
	return out, nil
}

func (r *formRepo) SetEnd(_ context.Context, id uuid.UUID, end time.Time) error {
	row, ok := r.ds.forms[id]
	if !ok {
		return model.NotFound("form", id)
	}
	e := end
	row.Rev.End = &e
	return nil
}

func (r *formRepo) CurrentByTitle(_ context.Context, title string) (*model.Form, error) {
	for _, row := range r.ds.forms {
		if row.Rev.Current() && strings.EqualFold(row.Title, title) {
			return row.Clone(), nil
		}
	}
	return nil, &model.NotFoundError{Entity: "form", Ref: title}
}

func (r *formRepo) CurrentByCode(_ context.Context, code string) (*model.Form, error) {
	for _, row := range r.ds.forms {
		if row.Rev.Current() && strings.EqualFold(row.Code, code) {
			return row.Clone(), nil
		}
	}
	return nil, &model.NotFoundError{Entity: "form", Ref: code}
}

func (r *formRepo) CurrentAll(_ context.Context) ([]*model.Form, error) {
	var out []*model.Form
	for _, row := range r.ds.forms {
		if row.Rev.Current() {
			out = append(out, row.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Title < out[j].Title })
	return out, nil
}

// --- sections ---

type sectionRepo struct {
	ds *dataset
}

func (r *sectionRepo) Insert(_ context.Context, section *model.Section) error {
	r.ds.sections[section.ID] = section.Clone()
	return nil
}

func (r *sectionRepo) Get(_ context.Context, id uuid.UUID) (*model.Section, error) {
	row, ok := r.ds.sections[id]
	if !ok {
		return nil, model.NotFound("section", id)
	}
	return row.Clone(), nil
}

func (r *sectionRepo) ByForm(_ context.Context, formID uuid.UUID) ([]*model.Section, error) {
	var out []*model.Section
	for _, row := range r.ds.sections {
		if row.FormID == formID {
			out = append(out, row.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out, nil
}

func (r *sectionRepo) UpdateOrder(_ context.Context, id uuid.UUID, order int) error {
	row, ok := r.ds.sections[id]
	if !ok {
		return model.NotFound("section", id)
	}
	row.Order = order
	return nil
}

func (r *sectionRepo) Delete(_ context.Context, id uuid.UUID) error {
	if _, ok := r.ds.sections[id]; !ok {
		return model.NotFound("section", id)
	}
	delete(r.ds.sections, id)
	return nil
}

// --- fields ---

type fieldRepo struct {
	ds *dataset
}

func (r *fieldRepo) Insert(_ context.Context, field *model.Field) error {
	r.ds.fields[field.ID] = field.Clone()
	return nil
}

func (r *fieldRepo) Get(_ context.Context, id uuid.UUID) (*model.Field, error) {
	row, ok := r.ds.fields[id]
	if !ok {
		return nil, model.NotFound("field", id)
	}
	return row.Clone(), nil
}

func (r *fieldRepo) BySection(_ context.Context, sectionID uuid.UUID) ([]*model.Field, error) {
	var out []*model.Field
	for _, row := range r.ds.fields {
		if row.SectionID == sectionID {
			out = append(out, row.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out, nil
}

func (r *fieldRepo) UpdateOrder(_ context.Context, id uuid.UUID, order int) error {
	row, ok := r.ds.fields[id]
	if !ok {
		return model.NotFound("field", id)
	}
	row.Order = order
	return nil
}

func (r *fieldRepo) SetParent(_ context.Context, id uuid.UUID, parent *uuid.UUID) error {
	row, ok := r.ds.fields[id]
	if !ok {
		return model.NotFound("field", id)
	}
	if parent == nil {
		row.Parent = nil
		return nil
	}
	p := *parent
	row.Parent = &p
	return nil
}

func (r *fieldRepo) Delete(_ context.Context, id uuid.UUID) error {
	if _, ok := r.ds.fields[id]; !ok {
		return model.NotFound("field", id)
	}
	delete(r.ds.fields, id)
	return nil
}

func (r *fieldRepo) CountByFieldType(_ context.Context, fieldTypeID uuid.UUID) (int, error) {
	n := 0
	for _, row := range r.ds.fields {
		if row.TypeID == fieldTypeID {
			n++
		}
	}
	return n, nil
}

// --- data types ---

type dataTypeRepo struct {
	ds *dataset
}

func (r *dataTypeRepo) Insert(_ context.Context, dt *model.DataType) error {
	c := *dt
	r.ds.dataTypes[dt.ID] = &c
	return nil
}

func (r *dataTypeRepo) Get(_ context.Context, id uuid.UUID) (*model.DataType, error) {
	row, ok := r.ds.dataTypes[id]
	if !ok {
		return nil, model.NotFound("data type", id)
	}
	c := *row
	return &c, nil
}

func (r *dataTypeRepo) ByName(_ context.Context, name string) (*model.DataType, error) {
	for _, row := range r.ds.dataTypes {
		if strings.EqualFold(row.Name, name) {
			c := *row
			return &c, nil
		}
	}
	return nil, &model.NotFoundError{Entity: "data type", Ref: name}
}

func (r *dataTypeRepo) All(_ context.Context) ([]*model.DataType, error) {
	var out []*model.DataType
	for _, row := range r.ds.dataTypes {
		c := *row
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// --- field types ---

type fieldTypeRepo struct {
	ds *dataset
}

func (r *fieldTypeRepo) Insert(_ context.Context, ft *model.FieldType) error {
	r.ds.fieldTypes[ft.ID] = ft.Clone()
	return nil
}

func (r *fieldTypeRepo) Get(_ context.Context, id uuid.UUID) (*model.FieldType, error) {
	row, ok := r.ds.fieldTypes[id]
	if !ok {
		return nil, model.NotFound("field type", id)
	}
	return row.Clone(), nil
}

func (r *fieldTypeRepo) ByName(_ context.Context, name string) (*model.FieldType, error) {
	for _, row := range r.ds.fieldTypes {
		if strings.EqualFold(row.Name, name) {
			return row.Clone(), nil
		}
	}
	return nil, &model.NotFoundError{Entity: "field type", Ref: name}
}

func (r *fieldTypeRepo) All(_ context.Context) ([]*model.FieldType, error) {
	var out []*model.FieldType
	for _, row := range r.ds.fieldTypes {
		out = append(out, row.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (r *fieldTypeRepo) Delete(_ context.Context, id uuid.UUID) error {
	if _, ok := r.ds.fieldTypes[id]; !ok {
		return model.NotFound("field type", id)
	}
	delete(r.ds.fieldTypes, id)
	return nil
}

// --- drafts ---

type draftRepo struct {
	ds *dataset
}

func (r *draftRepo) Upsert(_ context.Context, draft *model.Draft) error {
	r.ds.drafts[draft.ID] = draft.Clone()
	return nil
}

func (r *draftRepo) Get(_ context.Context, id uuid.UUID) (*model.Draft, error) {
	row, ok := r.ds.drafts[id]
	if !ok {
		return nil, model.NotFound("draft", id)
	}
	return row.Clone(), nil
}

func (r *draftRepo) ByOwnerTarget(_ context.Context, owner string, target *uuid.UUID) (*model.Draft, error) {
	for _, row := range r.ds.drafts {
		if row.Owner != owner {
			continue
		}
		if sameTarget(row.TargetRoot, target) {
			return row.Clone(), nil
		}
	}
	return nil, &model.NotFoundError{Entity: "draft", Ref: owner}
}

func (r *draftRepo) ByOwner(_ context.Context, owner string) ([]*model.Draft, error) {
	var out []*model.Draft
	for _, row := range r.ds.drafts {
		if row.Owner == owner {
			out = append(out, row.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	return out, nil
}

func (r *draftRepo) Delete(_ context.Context, id uuid.UUID) error {
	if _, ok := r.ds.drafts[id]; !ok {
		return model.NotFound("draft", id)
	}
	delete(r.ds.drafts, id)
	return nil
}

func sameTarget(a, b *uuid.UUID) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
