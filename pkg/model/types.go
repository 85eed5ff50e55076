package model

import (
	"time"

	"github.com/google/uuid"
)

// Code prefixes used by NewCode for the versioned entities.
const (
	CodePrefixFormType = "FTYPE"
	CodePrefixForm     = "FORM"
)

// FormType is one version of a node in the form taxonomy tree. ParentRoot
// references the parent node's lineage root, not a specific version, so the
// tree survives parent versioning.
type FormType struct {
	Rev         Revision   `json:"rev"`
	Code        string     `json:"code"`
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	ParentRoot  *uuid.UUID `json:"parent_root,omitempty"`
}

func (t *FormType) Revision() *Revision { return &t.Rev }

// Clone returns a deep copy suitable for building the next version.
func (t *FormType) Clone() *FormType {
	out := *t
	if t.ParentRoot != nil {
		p := *t.ParentRoot
		out.ParentRoot = &p
	}
	if t.Rev.Prev != nil {
		p := *t.Rev.Prev
		out.Rev.Prev = &p
	}
	if t.Rev.End != nil {
		e := *t.Rev.End
		out.Rev.End = &e
	}
	return &out
}

// Form is one version of a form definition. TypeRoot references the lineage
// root of its FormType. The category references are opaque identifiers owned
// by an external categorization service and are only accepted when
// categorization is enabled in config.
type Form struct {
	Rev            Revision  `json:"rev"`
	Code           string    `json:"code"`
	Title          string    `json:"title"`
	Description    string    `json:"description,omitempty"`
	TypeRoot       uuid.UUID `json:"type_root"`
	Completed      bool      `json:"completed"`
	MainProcessRef string    `json:"main_process_ref,omitempty"`
	CriteriaRef    string    `json:"criteria_ref,omitempty"`
}

func (f *Form) Revision() *Revision { return &f.Rev }

// Clone returns a deep copy suitable for building the next version.
func (f *Form) Clone() *Form {
	out := *f
	if f.Rev.Prev != nil {
		p := *f.Rev.Prev
		out.Rev.Prev = &p
	}
	if f.Rev.End != nil {
		e := *f.Rev.End
		out.Rev.End = &e
	}
	return &out
}

// Section belongs exclusively to one form version. Order is unique within the
// owning form, and Name is unique within the owning form.
type Section struct {
	ID          uuid.UUID `json:"id"`
	FormID      uuid.UUID `json:"form_id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Order       int       `json:"order"`
}

func (s *Section) Clone() *Section {
	out := *s
	return &out
}

// Field belongs exclusively to one section. Parent optionally references a
// sibling field in the same section for nesting; acyclicity and the depth
// bound are enforced by the structure graph, never by the storage shape.
// Order is unique among siblings (section level, or under the same parent).
type Field struct {
	ID        uuid.UUID  `json:"id"`
	SectionID uuid.UUID  `json:"section_id"`
	Label     string     `json:"label"`
	Name      string     `json:"name"`
	TypeID    uuid.UUID  `json:"type_id"`
	Required  bool       `json:"required"`
	Order     int        `json:"order"`
	Parent    *uuid.UUID `json:"parent,omitempty"`
	Rules     RuleSet    `json:"rules,omitempty"`
}

func (f *Field) Clone() *Field {
	out := *f
	if f.Parent != nil {
		p := *f.Parent
		out.Parent = &p
	}
	out.Rules = f.Rules.Clone()
	return &out
}

// DataType names a base semantic kind. The registry seeds one per Kind but
// callers may define aliases (e.g. "long_text" over KindText).
type DataType struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
	Kind Kind      `json:"kind"`
}

// FieldType is a reusable field definition bound to a DataType. Endpoint is
// an opaque URI required iff Dynamic; the core never dereferences it.
// Default marks the preferred field type for its data type.
type FieldType struct {
	ID         uuid.UUID `json:"id"`
	Name       string    `json:"name"`
	DataTypeID uuid.UUID `json:"data_type_id"`
	Dynamic    bool      `json:"dynamic"`
	Endpoint   string    `json:"endpoint,omitempty"`
	Default    bool      `json:"default"`
	Rules      RuleSet   `json:"rules,omitempty"`
}

func (t *FieldType) Clone() *FieldType {
	out := *t
	out.Rules = t.Rules.Clone()
	return &out
}

// Draft is a staged snapshot of in-progress form content. TargetRoot is nil
// for a draft of a brand-new form; otherwise it names the lineage the draft
// will version on promotion, and BaseVersion records the version the author
// was looking at for the optimistic check.
type Draft struct {
	ID          uuid.UUID    `json:"id"`
	Owner       string       `json:"owner"`
	TargetRoot  *uuid.UUID   `json:"target_root,omitempty"`
	BaseVersion int          `json:"base_version,omitempty"`
	Content     FormSnapshot `json:"content"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

func (d *Draft) Clone() *Draft {
	out := *d
	if d.TargetRoot != nil {
		t := *d.TargetRoot
		out.TargetRoot = &t
	}
	out.Content = d.Content.Clone()
	return &out
}
