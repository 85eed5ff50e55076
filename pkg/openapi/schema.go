// Package openapi renders a form definition as an OpenAPI 3 object schema.
// The emitted schema describes a submission payload: one property per
// section, each an object holding its fields. Dynamic option endpoints are
// surfaced as extensions and never dereferenced.
package openapi

import (
	"fmt"
	"strconv"

	"github.com/getkin/kin-openapi/openapi3"

	"github.com/nexgensis/go-forms/pkg/model"
)

// Extension keys attached to emitted schemas.
const (
	ExtOptionsEndpoint = "x-options-endpoint"
	ExtOptionsSource   = "x-options-source"
	ExtFormCode        = "x-form-code"
	ExtFormVersion     = "x-form-version"
)

// TypeInfo is what the builder needs to know about a field type.
type TypeInfo struct {
	Kind     model.Kind
	Dynamic  bool
	Endpoint string
}

// Resolver maps a field type name to its TypeInfo.
type Resolver func(typeName string) (TypeInfo, error)

// BuildSchema renders the form and its structure snapshot as a schema.
func BuildSchema(form *model.Form, sections []model.SectionSnapshot, resolve Resolver) (*openapi3.Schema, error) {
	root := openapi3.NewObjectSchema()
	root.Title = form.Title
	root.Description = form.Description
	root.Extensions = map[string]any{
		ExtFormCode:    form.Code,
		ExtFormVersion: form.Rev.Version,
	}

	for _, sec := range sections {
		obj, err := fieldsSchema(sec.Fields, resolve)
		if err != nil {
			return nil, err
		}
		obj.Description = sec.Description
		root.Properties[sec.Name] = openapi3.NewSchemaRef("", obj)
	}
	return root, nil
}

func fieldsSchema(fields []model.FieldSnapshot, resolve Resolver) (*openapi3.Schema, error) {
	obj := openapi3.NewObjectSchema()
	for _, f := range fields {
		var prop *openapi3.Schema
		var err error
		if len(f.Fields) > 0 {
			// a field with children is a group; its own type is ignored
			prop, err = fieldsSchema(f.Fields, resolve)
			if err != nil {
				return nil, err
			}
			prop.Title = f.Label
		} else {
			prop, err = fieldSchema(f, resolve)
			if err != nil {
				return nil, err
			}
		}
		obj.Properties[f.Name] = openapi3.NewSchemaRef("", prop)
		if f.Required {
			obj.Required = append(obj.Required, f.Name)
		}
	}
	return obj, nil
}

func fieldSchema(f model.FieldSnapshot, resolve Resolver) (*openapi3.Schema, error) {
	info, err := resolve(f.TypeName)
	if err != nil {
		return nil, fmt.Errorf("openapi: field %q: %w", f.Name, err)
	}

	var s *openapi3.Schema
	switch info.Kind {
	case model.KindText:
		s = openapi3.NewStringSchema()
		if v, ok := f.Rules[model.RuleMinLength]; ok {
			n, err := strconv.ParseUint(v, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("openapi: field %q: bad %s: %w", f.Name, model.RuleMinLength, err)
			}
			s.MinLength = n
		}
		if v, ok := f.Rules[model.RuleMaxLength]; ok {
			n, err := strconv.ParseUint(v, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("openapi: field %q: bad %s: %w", f.Name, model.RuleMaxLength, err)
			}
			s.MaxLength = &n
		}
		if v, ok := f.Rules[model.RulePattern]; ok {
			s.Pattern = v
		}
	case model.KindNumber:
		s = openapi3.NewFloat64Schema()
		if v, ok := f.Rules[model.RuleMin]; ok {
			n, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return nil, fmt.Errorf("openapi: field %q: bad %s: %w", f.Name, model.RuleMin, err)
			}
			s.Min = &n
		}
		if v, ok := f.Rules[model.RuleMax]; ok {
			n, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return nil, fmt.Errorf("openapi: field %q: bad %s: %w", f.Name, model.RuleMax, err)
			}
			s.Max = &n
		}
	case model.KindDate:
		s = openapi3.NewStringSchema()
		s.Format = "date"
	case model.KindBoolean:
		s = openapi3.NewBoolSchema()
	case model.KindChoice:
		item := openapi3.NewStringSchema()
		if f.Rules[model.RuleMultiple] == "true" {
			s = openapi3.NewArraySchema()
			s.Items = openapi3.NewSchemaRef("", item)
			if v, ok := f.Rules[model.RuleMinSelections]; ok {
				n, err := strconv.ParseUint(v, 10, 64)
				if err != nil {
					return nil, fmt.Errorf("openapi: field %q: bad %s: %w", f.Name, model.RuleMinSelections, err)
				}
				s.MinItems = n
			}
			if v, ok := f.Rules[model.RuleMaxSelections]; ok {
				n, err := strconv.ParseUint(v, 10, 64)
				if err != nil {
					return nil, fmt.Errorf("openapi: field %q: bad %s: %w", f.Name, model.RuleMaxSelections, err)
				}
				s.MaxItems = &n
			}
		} else {
			s = item
		}
		if v, ok := f.Rules[model.RuleOptionsSource]; ok {
			setExtension(s, ExtOptionsSource, v)
		}
	case model.KindFile:
		s = openapi3.NewStringSchema()
		s.Format = "binary"
	default:
		return nil, fmt.Errorf("openapi: field %q: unsupported data type kind %q", f.Name, info.Kind)
	}

	s.Title = f.Label
	if info.Dynamic && info.Endpoint != "" {
		setExtension(s, ExtOptionsEndpoint, info.Endpoint)
	}
	return s, nil
}

func setExtension(s *openapi3.Schema, key string, value any) {
	if s.Extensions == nil {
		s.Extensions = map[string]any{}
	}
	s.Extensions[key] = value
}
