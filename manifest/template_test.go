package manifest

import (
	"testing"

	"github.com/xyproto/wrapstub/strtable"
)

func newRenderContext(t *testing.T) *cx {
	t.Helper()
	a := newArena(t)
	return &cx{arena: a, manifest: &Manifest{Env: strtable.New(a, 16)}, artifactsDir: strtable.Str("/artifacts")}
}

func TestRenderTemplateConcatenatesStringAndArtifactComponents(t *testing.T) {
	c := newRenderContext(t)
	v, err := ParseJSON([]byte(`{"components": [
		{"kind": "string", "value": "prefix-"},
		{"kind": "artifact", "value": "bin/echo"}
	]}`))
	if err != nil {
		t.Fatalf("ParseJSON: %v", err)
	}
	got, err := c.renderTemplate(v)
	if err != nil {
		t.Fatalf("renderTemplate: %v", err)
	}
	if got.String() != "prefix-/artifacts/bin/echo" {
		t.Fatalf("renderTemplate = %q, want prefix-/artifacts/bin/echo", got)
	}
}

func TestRenderTemplateRejectsUnknownComponentKind(t *testing.T) {
	c := newRenderContext(t)
	v, err := ParseJSON([]byte(`{"components": [{"kind": "bogus", "value": "x"}]}`))
	if err != nil {
		t.Fatalf("ParseJSON: %v", err)
	}
	if _, err := c.renderTemplate(v); err == nil {
		t.Fatalf("expected error for unknown component kind")
	}
}

func TestRenderTemplateRejectsNonObjectValue(t *testing.T) {
	c := newRenderContext(t)
	v, err := ParseJSON([]byte(`"not-a-template"`))
	if err != nil {
		t.Fatalf("ParseJSON: %v", err)
	}
	if _, err := c.renderTemplate(v); err == nil {
		t.Fatalf("expected error for a non-object template value")
	}
}

func TestRenderValueScalars(t *testing.T) {
	c := newRenderContext(t)
	cases := []struct {
		json string
		want string
	}{
		{"null", ""},
		{"true", "true"},
		{"false", "false"},
		{"42", "42"},
		{`"hi"`, "hi"},
	}
	for _, tc := range cases {
		v, err := ParseJSON([]byte(tc.json))
		if err != nil {
			t.Fatalf("ParseJSON(%q): %v", tc.json, err)
		}
		got, err := c.renderValue(v)
		if err != nil {
			t.Fatalf("renderValue(%q): %v", tc.json, err)
		}
		if got.String() != tc.want {
			t.Fatalf("renderValue(%q) = %q, want %q", tc.json, got, tc.want)
		}
	}
}

func TestRenderValueObjectKindAddressesArtifactByID(t *testing.T) {
	c := newRenderContext(t)
	v, err := ParseJSON([]byte(`{"kind": "object", "value": "bin/tool"}`))
	if err != nil {
		t.Fatalf("ParseJSON: %v", err)
	}
	got, err := c.renderValue(v)
	if err != nil {
		t.Fatalf("renderValue: %v", err)
	}
	if got.String() != "/artifacts/bin/tool" {
		t.Fatalf("renderValue = %q, want /artifacts/bin/tool", got)
	}
}

func TestRenderValueTemplateKindRecursesIntoRenderTemplate(t *testing.T) {
	c := newRenderContext(t)
	v, err := ParseJSON([]byte(`{"kind": "template", "value": {"components": [{"kind": "string", "value": "x"}]}}`))
	if err != nil {
		t.Fatalf("ParseJSON: %v", err)
	}
	got, err := c.renderValue(v)
	if err != nil {
		t.Fatalf("renderValue: %v", err)
	}
	if got.String() != "x" {
		t.Fatalf("renderValue = %q, want x", got)
	}
}

func TestRenderValueRejectsMapBytesAndMutationKinds(t *testing.T) {
	c := newRenderContext(t)
	for _, kind := range []string{"map", "bytes", "mutation"} {
		v, err := ParseJSON([]byte(`{"kind": "` + kind + `", "value": "x"}`))
		if err != nil {
			t.Fatalf("ParseJSON(%s): %v", kind, err)
		}
		if _, err := c.renderValue(v); err == nil {
			t.Fatalf("kind %q: expected renderValue to reject it in this context", kind)
		}
	}
}
