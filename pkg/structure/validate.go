package structure

import (
	"context"
	"fmt"
	"strings"

	"github.com/nexgensis/go-forms/pkg/model"
	"github.com/nexgensis/go-forms/pkg/registry"
)

// ValidateSections checks a structure snapshot against every rule the graph
// enforces and returns the complete list of problems rather than stopping at
// the first. Locations are dotted paths such as
// "sections[0].fields[2].rules.min_length".
func ValidateSections(ctx context.Context, lk *registry.Lookup, sections []model.SectionSnapshot, maxDepth int) []model.Issue {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	var issues []model.Issue

	names := map[string]int{}
	orders := map[int]int{}
	for i, sec := range sections {
		loc := fmt.Sprintf("sections[%d]", i)
		name := strings.TrimSpace(sec.Name)
		if name == "" {
			issues = append(issues, model.Issue{Location: loc + ".name", Message: "section name is required"})
		} else {
			key := strings.ToLower(name)
			if prev, ok := names[key]; ok {
				issues = append(issues, model.Issue{
					Location: loc + ".name",
					Message:  fmt.Sprintf("duplicate section name %q, first used by sections[%d]", name, prev),
				})
			} else {
				names[key] = i
			}
		}
		if prev, ok := orders[sec.Order]; ok {
			issues = append(issues, model.Issue{
				Location: loc + ".order",
				Message:  fmt.Sprintf("duplicate section order %d, first used by sections[%d]", sec.Order, prev),
			})
		} else {
			orders[sec.Order] = i
		}

		fieldNames := map[string]string{}
		issues = append(issues, validateFields(ctx, lk, sec.Fields, loc+".fields", 1, maxDepth, fieldNames)...)
	}
	return issues
}

func validateFields(ctx context.Context, lk *registry.Lookup, fields []model.FieldSnapshot, loc string, depth, maxDepth int, names map[string]string) []model.Issue {
	var issues []model.Issue
	orders := map[int]string{}
	for i, f := range fields {
		at := fmt.Sprintf("%s[%d]", loc, i)
		if strings.TrimSpace(f.Label) == "" {
			issues = append(issues, model.Issue{Location: at + ".label", Message: "field label is required"})
		}
		name := strings.TrimSpace(f.Name)
		if name == "" {
			issues = append(issues, model.Issue{Location: at + ".name", Message: "field name is required"})
		} else {
			key := strings.ToLower(name)
			if prev, ok := names[key]; ok {
				issues = append(issues, model.Issue{
					Location: at + ".name",
					Message:  fmt.Sprintf("duplicate field name %q, first used at %s", name, prev),
				})
			} else {
				names[key] = at
			}
		}
		if prev, ok := orders[f.Order]; ok {
			issues = append(issues, model.Issue{
				Location: at + ".order",
				Message:  fmt.Sprintf("duplicate order %d among siblings, first used at %s", f.Order, prev),
			})
		} else {
			orders[f.Order] = at
		}

		if depth > maxDepth {
			issues = append(issues, model.Issue{
				Location: at,
				Message:  fmt.Sprintf("nesting depth %d exceeds the maximum of %d", depth, maxDepth),
			})
		}

		_, dt, err := lk.FieldType(ctx, f.TypeName)
		if err != nil {
			if model.IsNotFound(err) {
				issues = append(issues, model.Issue{
					Location: at + ".type",
					Message:  fmt.Sprintf("unknown field type %q", f.TypeName),
				})
			} else {
				issues = append(issues, model.Issue{Location: at + ".type", Message: err.Error()})
			}
		} else if len(f.Rules) > 0 {
			if _, err := model.ParseRuleSet(dt.Kind, f.Rules); err != nil {
				if verr, ok := model.AsValidation(err); ok {
					issues = append(issues, model.PrefixIssues(at+".rules", verr.Issues)...)
				} else {
					issues = append(issues, model.Issue{Location: at + ".rules", Message: err.Error()})
				}
			}
		}

		issues = append(issues, validateFields(ctx, lk, f.Fields, at+".fields", depth+1, maxDepth, names)...)
	}
	return issues
}
