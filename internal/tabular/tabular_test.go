package tabular_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/nexgensis/go-forms/internal/tabular"
	"github.com/nexgensis/go-forms/pkg/bulk"
)

func TestWriteReadRoundTrip(t *testing.T) {
	in := []bulk.Row{
		{
			FormTypeCode: "FTYPE-AB12CD34", SectionName: "General", SectionOrder: 1,
			FieldLabel: "Inspector", FieldName: "inspector",
			FieldTypeName: "short text", DataTypeName: "text",
			Required: true, FieldOrder: 1,
			ValidationRules: "max_length=80",
		},
		{
			FormTypeCode: "FTYPE-AB12CD34", SectionName: "General", SectionOrder: 1,
			FieldLabel: "Humidity, indoor", FieldName: "humidity",
			FieldTypeName: "integer", DataTypeName: "number",
			FieldOrder: 2, ParentFieldName: "inspector",
		},
	}

	var buf bytes.Buffer
	if err := tabular.Write(&buf, in); err != nil {
		t.Fatalf("write: %v", err)
	}
	out, err := tabular.Read(&buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if diff := cmp.Diff(in, out); diff != "" {
		t.Fatalf("round trip mismatch (-in +out):\n%s", diff)
	}
}

func TestReadRejectsWrongHeader(t *testing.T) {
	body := "form_type_code,section_name\nFTYPE-X,General\n"
	if _, err := tabular.Read(strings.NewReader(body)); err == nil {
		t.Fatalf("expected a header error")
	}
}

func TestReadAcceptsBoolVariants(t *testing.T) {
	body := strings.Join(tabular.Header, ",") + "\n" +
		"FTYPE-X,General,1,Label,name,short text,text,YES,1,,\n"
	rows, err := tabular.Read(strings.NewReader(body))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !rows[0].Required {
		t.Fatalf("YES should parse as true")
	}

	body = strings.Join(tabular.Header, ",") + "\n" +
		"FTYPE-X,General,1,Label,name,short text,text,maybe,1,,\n"
	if _, err := tabular.Read(strings.NewReader(body)); err == nil {
		t.Fatalf("expected an error for a bad bool")
	}
}
