package model

// FormSnapshot is the serialized structure graph of one form version:
// sections ordered by Order, fields within each section ordered depth-first.
// Drafts persist snapshots verbatim; bulk import and draft promotion
// materialize them through the lineage engine.
type FormSnapshot struct {
	Title       string            `json:"title"`
	Description string            `json:"description,omitempty"`
	TypeCode    string            `json:"type_code"`
	Sections    []SectionSnapshot `json:"sections"`
}

// SectionSnapshot is one section and its top-level fields.
type SectionSnapshot struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Order       int             `json:"order"`
	Fields      []FieldSnapshot `json:"fields,omitempty"`
}

// FieldSnapshot is one field and its nested children. Rules stay raw
// key/value pairs until promotion validates them against the data type kind.
type FieldSnapshot struct {
	Label    string            `json:"label"`
	Name     string            `json:"name"`
	TypeName string            `json:"type_name"`
	Required bool              `json:"required"`
	Order    int               `json:"order"`
	Rules    map[string]string `json:"rules,omitempty"`
	Fields   []FieldSnapshot   `json:"fields,omitempty"`
}

// Clone returns a deep copy.
func (s FormSnapshot) Clone() FormSnapshot {
	out := s
	out.Sections = make([]SectionSnapshot, len(s.Sections))
	for i, sec := range s.Sections {
		out.Sections[i] = sec.Clone()
	}
	return out
}

// Clone returns a deep copy.
func (s SectionSnapshot) Clone() SectionSnapshot {
	out := s
	out.Fields = cloneFieldSnapshots(s.Fields)
	return out
}

// Clone returns a deep copy.
func (f FieldSnapshot) Clone() FieldSnapshot {
	out := f
	if f.Rules != nil {
		out.Rules = make(map[string]string, len(f.Rules))
		for k, v := range f.Rules {
			out.Rules[k] = v
		}
	}
	out.Fields = cloneFieldSnapshots(f.Fields)
	return out
}

func cloneFieldSnapshots(fields []FieldSnapshot) []FieldSnapshot {
	if fields == nil {
		return nil
	}
	out := make([]FieldSnapshot, len(fields))
	for i, f := range fields {
		out[i] = f.Clone()
	}
	return out
}

// Depth returns the deepest field nesting level in the snapshot; a section
// with only top-level fields has depth 1.
func (s FormSnapshot) Depth() int {
	max := 0
	for _, sec := range s.Sections {
		if d := fieldDepth(sec.Fields); d > max {
			max = d
		}
	}
	return max
}

func fieldDepth(fields []FieldSnapshot) int {
	max := 0
	for _, f := range fields {
		d := 1 + fieldDepth(f.Fields)
		if d > max {
			max = d
		}
	}
	return max
}
