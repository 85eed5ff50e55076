package model

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"time"
)

// Kind is the base semantic category of a DataType. The validation-rule
// vocabulary is closed per kind; unknown keys are rejected when a rule set is
// parsed, not when a field is used.
type Kind string

const (
	KindText    Kind = "text"
	KindNumber  Kind = "number"
	KindDate    Kind = "date"
	KindBoolean Kind = "boolean"
	KindChoice  Kind = "choice"
	KindFile    Kind = "file"
)

// Kinds lists every supported kind in stable order.
func Kinds() []Kind {
	return []Kind{KindText, KindNumber, KindDate, KindBoolean, KindChoice, KindFile}
}

// ValidKind reports whether k names a supported kind.
func ValidKind(k Kind) bool {
	for _, known := range Kinds() {
		if k == known {
			return true
		}
	}
	return false
}

// Rule keys accepted per kind.
const (
	RuleMinLength     = "min_length"
	RuleMaxLength     = "max_length"
	RulePattern       = "pattern"
	RuleMin           = "min"
	RuleMax           = "max"
	RuleMinSelections = "min_selections"
	RuleMaxSelections = "max_selections"
	RuleOptionsSource = "options_source"
	RuleMultiple      = "multiple"
	RuleMinDate       = "min_date"
	RuleMaxDate       = "max_date"
)

// TextRules constrains text fields.
type TextRules struct {
	MinLength *int   `json:"min_length,omitempty"`
	MaxLength *int   `json:"max_length,omitempty"`
	Pattern   string `json:"pattern,omitempty"`
}

// NumericRules constrains numeric fields.
type NumericRules struct {
	Min *float64 `json:"min,omitempty"`
	Max *float64 `json:"max,omitempty"`
}

// ChoiceRules constrains choice fields. OptionsSource is an opaque reference
// understood by the presentation layer.
type ChoiceRules struct {
	MinSelections *int   `json:"min_selections,omitempty"`
	MaxSelections *int   `json:"max_selections,omitempty"`
	OptionsSource string `json:"options_source,omitempty"`
	Multiple      bool   `json:"multiple,omitempty"`
}

// DateRules constrains date fields. Bounds are calendar dates.
type DateRules struct {
	MinDate *time.Time `json:"min_date,omitempty"`
	MaxDate *time.Time `json:"max_date,omitempty"`
}

// RuleSet is the closed tagged union of per-kind validation rules. At most
// one variant is set, and it always matches the kind of the owning data type.
type RuleSet struct {
	Text    *TextRules    `json:"text,omitempty"`
	Numeric *NumericRules `json:"numeric,omitempty"`
	Choice  *ChoiceRules  `json:"choice,omitempty"`
	Date    *DateRules    `json:"date,omitempty"`
}

// Empty reports whether no variant is set.
func (r RuleSet) Empty() bool {
	return r.Text == nil && r.Numeric == nil && r.Choice == nil && r.Date == nil
}

// Clone returns a deep copy.
func (r RuleSet) Clone() RuleSet {
	out := RuleSet{}
	if r.Text != nil {
		t := *r.Text
		t.MinLength = cloneInt(r.Text.MinLength)
		t.MaxLength = cloneInt(r.Text.MaxLength)
		out.Text = &t
	}
	if r.Numeric != nil {
		n := *r.Numeric
		n.Min = cloneFloat(r.Numeric.Min)
		n.Max = cloneFloat(r.Numeric.Max)
		out.Numeric = &n
	}
	if r.Choice != nil {
		c := *r.Choice
		c.MinSelections = cloneInt(r.Choice.MinSelections)
		c.MaxSelections = cloneInt(r.Choice.MaxSelections)
		out.Choice = &c
	}
	if r.Date != nil {
		d := *r.Date
		d.MinDate = cloneTime(r.Date.MinDate)
		d.MaxDate = cloneTime(r.Date.MaxDate)
		out.Date = &d
	}
	return out
}

func cloneInt(v *int) *int {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func cloneFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func cloneTime(v *time.Time) *time.Time {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

const dateLayout = "2006-01-02"

// ParseRuleSet builds a typed rule set for the given kind from raw key/value
// pairs. Every unknown key and unparseable value yields an Issue located at
// the key; a non-nil error is always a *ValidationError carrying all of them.
func ParseRuleSet(kind Kind, raw map[string]string) (RuleSet, error) {
	if len(raw) == 0 {
		return RuleSet{}, nil
	}

	var issues []Issue
	badKey := func(key string) {
		issues = append(issues, Issue{
			Location: key,
			Message:  fmt.Sprintf("rule %q is not allowed for %s fields", key, kind),
		})
	}
	badValue := func(key, value, want string) {
		issues = append(issues, Issue{
			Location: key,
			Message:  fmt.Sprintf("invalid value %q: expected %s", value, want),
		})
	}

	var out RuleSet
	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		value := raw[key]
		switch kind {
		case KindText:
			if out.Text == nil {
				out.Text = &TextRules{}
			}
			switch key {
			case RuleMinLength:
				if n, err := strconv.Atoi(value); err != nil || n < 0 {
					badValue(key, value, "a non-negative integer")
				} else {
					out.Text.MinLength = &n
				}
			case RuleMaxLength:
				if n, err := strconv.Atoi(value); err != nil || n < 0 {
					badValue(key, value, "a non-negative integer")
				} else {
					out.Text.MaxLength = &n
				}
			case RulePattern:
				if _, err := regexp.Compile(value); err != nil {
					badValue(key, value, "a valid regular expression")
				} else {
					out.Text.Pattern = value
				}
			default:
				badKey(key)
			}
		case KindNumber:
			if out.Numeric == nil {
				out.Numeric = &NumericRules{}
			}
			switch key {
			case RuleMin:
				if f, err := strconv.ParseFloat(value, 64); err != nil {
					badValue(key, value, "a number")
				} else {
					out.Numeric.Min = &f
				}
			case RuleMax:
				if f, err := strconv.ParseFloat(value, 64); err != nil {
					badValue(key, value, "a number")
				} else {
					out.Numeric.Max = &f
				}
			default:
				badKey(key)
			}
		case KindChoice:
			if out.Choice == nil {
				out.Choice = &ChoiceRules{}
			}
			switch key {
			case RuleMinSelections:
				if n, err := strconv.Atoi(value); err != nil || n < 0 {
					badValue(key, value, "a non-negative integer")
				} else {
					out.Choice.MinSelections = &n
				}
			case RuleMaxSelections:
				if n, err := strconv.Atoi(value); err != nil || n < 0 {
					badValue(key, value, "a non-negative integer")
				} else {
					out.Choice.MaxSelections = &n
				}
			case RuleOptionsSource:
				out.Choice.OptionsSource = value
			case RuleMultiple:
				if b, err := strconv.ParseBool(value); err != nil {
					badValue(key, value, "true or false")
				} else {
					out.Choice.Multiple = b
				}
			default:
				badKey(key)
			}
		case KindDate:
			if out.Date == nil {
				out.Date = &DateRules{}
			}
			switch key {
			case RuleMinDate:
				if t, err := time.Parse(dateLayout, value); err != nil {
					badValue(key, value, "a date formatted as YYYY-MM-DD")
				} else {
					out.Date.MinDate = &t
				}
			case RuleMaxDate:
				if t, err := time.Parse(dateLayout, value); err != nil {
					badValue(key, value, "a date formatted as YYYY-MM-DD")
				} else {
					out.Date.MaxDate = &t
				}
			default:
				badKey(key)
			}
		default:
			// boolean and file kinds accept no validation rules at all
			badKey(key)
		}
	}

	if len(issues) > 0 {
		return RuleSet{}, &ValidationError{Issues: issues}
	}
	if rangeIssue := out.checkRanges(); rangeIssue != nil {
		return RuleSet{}, &ValidationError{Issues: []Issue{*rangeIssue}}
	}
	return out, nil
}

func (r RuleSet) checkRanges() *Issue {
	switch {
	case r.Text != nil && r.Text.MinLength != nil && r.Text.MaxLength != nil && *r.Text.MinLength > *r.Text.MaxLength:
		return &Issue{Location: RuleMinLength, Message: "min_length exceeds max_length"}
	case r.Numeric != nil && r.Numeric.Min != nil && r.Numeric.Max != nil && *r.Numeric.Min > *r.Numeric.Max:
		return &Issue{Location: RuleMin, Message: "min exceeds max"}
	case r.Choice != nil && r.Choice.MinSelections != nil && r.Choice.MaxSelections != nil && *r.Choice.MinSelections > *r.Choice.MaxSelections:
		return &Issue{Location: RuleMinSelections, Message: "min_selections exceeds max_selections"}
	case r.Date != nil && r.Date.MinDate != nil && r.Date.MaxDate != nil && r.Date.MinDate.After(*r.Date.MaxDate):
		return &Issue{Location: RuleMinDate, Message: "min_date is after max_date"}
	}
	return nil
}

// Encode flattens the rule set back into raw key/value pairs. It is the
// inverse of ParseRuleSet for any set that parses cleanly.
func (r RuleSet) Encode() map[string]string {
	out := map[string]string{}
	if r.Text != nil {
		if r.Text.MinLength != nil {
			out[RuleMinLength] = strconv.Itoa(*r.Text.MinLength)
		}
		if r.Text.MaxLength != nil {
			out[RuleMaxLength] = strconv.Itoa(*r.Text.MaxLength)
		}
		if r.Text.Pattern != "" {
			out[RulePattern] = r.Text.Pattern
		}
	}
	if r.Numeric != nil {
		if r.Numeric.Min != nil {
			out[RuleMin] = strconv.FormatFloat(*r.Numeric.Min, 'f', -1, 64)
		}
		if r.Numeric.Max != nil {
			out[RuleMax] = strconv.FormatFloat(*r.Numeric.Max, 'f', -1, 64)
		}
	}
	if r.Choice != nil {
		if r.Choice.MinSelections != nil {
			out[RuleMinSelections] = strconv.Itoa(*r.Choice.MinSelections)
		}
		if r.Choice.MaxSelections != nil {
			out[RuleMaxSelections] = strconv.Itoa(*r.Choice.MaxSelections)
		}
		if r.Choice.OptionsSource != "" {
			out[RuleOptionsSource] = r.Choice.OptionsSource
		}
		if r.Choice.Multiple {
			out[RuleMultiple] = "true"
		}
	}
	if r.Date != nil {
		if r.Date.MinDate != nil {
			out[RuleMinDate] = r.Date.MinDate.Format(dateLayout)
		}
		if r.Date.MaxDate != nil {
			out[RuleMaxDate] = r.Date.MaxDate.Format(dateLayout)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
