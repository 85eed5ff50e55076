package model_test

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/nexgensis/go-forms/pkg/model"
)

func TestParseRuleSetRejectsForeignKeys(t *testing.T) {
	_, err := model.ParseRuleSet(model.KindNumber, map[string]string{
		"max_length": "10",
		"min":        "0",
		"pattern":    "^a",
	})
	verr, ok := model.AsValidation(err)
	if !ok {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if len(verr.Issues) != 2 {
		t.Fatalf("expected one issue per foreign key, got %v", verr.Issues)
	}
	// sorted by key
	if verr.Issues[0].Location != "max_length" || verr.Issues[1].Location != "pattern" {
		t.Fatalf("unexpected issue locations: %v", verr.Issues)
	}
}

func TestParseRuleSetRejectsInvertedBounds(t *testing.T) {
	cases := []struct {
		kind model.Kind
		raw  map[string]string
		at   string
	}{
		{model.KindText, map[string]string{"min_length": "5", "max_length": "2"}, "min_length"},
		{model.KindNumber, map[string]string{"min": "10", "max": "1"}, "min"},
		{model.KindChoice, map[string]string{"min_selections": "3", "max_selections": "1"}, "min_selections"},
		{model.KindDate, map[string]string{"min_date": "2026-01-02", "max_date": "2026-01-01"}, "min_date"},
	}
	for _, tc := range cases {
		_, err := model.ParseRuleSet(tc.kind, tc.raw)
		verr, ok := model.AsValidation(err)
		if !ok {
			t.Fatalf("%s: expected ValidationError, got %v", tc.kind, err)
		}
		if len(verr.Issues) != 1 || verr.Issues[0].Location != tc.at {
			t.Fatalf("%s: unexpected issues %v", tc.kind, verr.Issues)
		}
	}
}

func TestParseRuleSetBooleanAcceptsNoRules(t *testing.T) {
	if _, err := model.ParseRuleSet(model.KindBoolean, nil); err != nil {
		t.Fatalf("empty rules on boolean: %v", err)
	}
	if _, err := model.ParseRuleSet(model.KindBoolean, map[string]string{"min": "1"}); err == nil {
		t.Fatal("expected any rule on a boolean kind to be rejected")
	}
}

func TestEncodeInvertsParse(t *testing.T) {
	raw := map[string]string{
		"max_selections": "3",
		"min_selections": "1",
		"multiple":       "true",
		"options_source": "departments",
	}
	rs, err := model.ParseRuleSet(model.KindChoice, raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if diff := cmp.Diff(raw, rs.Encode()); diff != "" {
		t.Fatalf("encode mismatch (-want +got):\n%s", diff)
	}

	if got := (model.RuleSet{}).Encode(); got != nil {
		t.Fatalf("empty set should encode to nil, got %v", got)
	}
}

func TestRuleSetCloneIsDeep(t *testing.T) {
	rs, err := model.ParseRuleSet(model.KindText, map[string]string{"min_length": "2"})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	dup := rs.Clone()
	*dup.Text.MinLength = 99
	if *rs.Text.MinLength != 2 {
		t.Fatalf("clone shares pointers: original min_length became %d", *rs.Text.MinLength)
	}
}
