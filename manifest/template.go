package manifest

import (
	"crypto/rand"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/xyproto/wrapstub/strtable"
)

// renderTemplate concatenates a template's "string" and "artifact"
// components, joining artifact components with the context's resolved
// artifacts directory.
func (c *cx) renderTemplate(template *Value) (strtable.Str, error) {
	if template.Kind != KindObject {
		return nil, fmt.Errorf("manifest: template: expected an object")
	}
	components := template.Object.Get("components")
	if components == nil || components.Kind != KindArray {
		return nil, fmt.Errorf("manifest: template: expected a components array")
	}

	var out []byte
	for a := components.Array; a != nil; a = a.Next {
		if a.Value == nil {
			continue
		}
		if a.Value.Kind != KindObject {
			return nil, fmt.Errorf("manifest: template: expected an object component")
		}
		o := a.Value.Object
		kind := o.Get("kind")
		value := o.Get("value")
		if kind == nil || value == nil {
			return nil, fmt.Errorf("manifest: template: missing kind/value")
		}
		if kind.Kind != KindString || value.Kind != KindString {
			return nil, fmt.Errorf("manifest: template: kind/value must be strings")
		}
		switch string(kind.Str) {
		case "string":
			out = append(out, value.Str...)
		case "artifact":
			out = append(out, c.artifactsDir...)
			out = append(out, '/')
			out = append(out, value.Str...)
		default:
			return nil, fmt.Errorf("manifest: template: unknown component kind %q", kind.Str)
		}
	}
	return strtable.Str(out), nil
}

// renderValue renders an arbitrary JSON value to its string
// representation, using the same special-cased
// object kinds ("object" addresses an artifact by id, "template"
// recurses into renderTemplate; "map"/"bytes"/"mutation" cannot be
// rendered in this context).
func (c *cx) renderValue(value *Value) (strtable.Str, error) {
	switch value.Kind {
	case KindNull:
		return nil, nil
	case KindBool:
		if value.Bool {
			return strtable.Str("true"), nil
		}
		return strtable.Str("false"), nil
	case KindNumber:
		return strtable.Str(strconv.FormatInt(value.Number, 10)), nil
	case KindString:
		return value.Str, nil
	case KindObject:
		o := value.Object
		kind := o.Get("kind")
		if kind == nil || kind.Kind != KindString {
			return nil, fmt.Errorf("manifest: render: missing kind")
		}
		v := o.Get("value")
		if v == nil {
			return nil, fmt.Errorf("manifest: render: missing value")
		}
		switch string(kind.Str) {
		case "map":
			return nil, fmt.Errorf("manifest: render: cannot render a map in this context")
		case "object":
			if v.Kind != KindString {
				return nil, fmt.Errorf("manifest: render: expected an id string")
			}
			return strtable.Join(c.arena, '/', []strtable.Str{c.artifactsDir, v.Str})
		case "bytes":
			return nil, fmt.Errorf("manifest: render: cannot render bytes in this context")
		case "mutation":
			return nil, fmt.Errorf("manifest: render: cannot render a mutation in this context")
		case "template":
			return c.renderTemplate(v)
		default:
			return nil, fmt.Errorf("manifest: render: unknown value type %q", kind.Str)
		}
	default:
		return nil, fmt.Errorf("manifest: render: malformed value kind %d", value.Kind)
	}
}

const mktempAlphabet = "0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ-_"

// mktemp fills the trailing 6 bytes of path with random characters from
// mktempAlphabet.
func mktemp(path []byte) error {
	if len(path) <= 6 {
		return fmt.Errorf("manifest: mktemp: path too short")
	}
	tail := path[len(path)-6:]
	if _, err := rand.Read(tail); err != nil {
		return fmt.Errorf("manifest: mktemp: %w", err)
	}
	for i, b := range tail {
		tail[i] = mktempAlphabet[int(b)%len(mktempAlphabet)]
	}
	return nil
}

// renderTemplateToTemp renders template's "content" bytes to a freshly
// created temp file and points the manifest's Executable at that path.
// It runs wherever the manifest is parsed, including inside the stub
// via ReadExecutable; the random suffix comes from crypto/rand.
func (c *cx) renderTemplateToTemp(template *Value) error {
	rendered, err := c.renderTemplate(template)
	if err != nil {
		return err
	}

	dir := "/tmp"
	if t, ok := c.manifest.Env.Lookup(strtable.Str("TEMP")); ok {
		dir = string(t)
	}
	name := []byte("tmp.XXXXXX")
	if err := mktemp(name); err != nil {
		return err
	}
	path := filepath.Join(dir, string(name))

	if err := os.WriteFile(path, rendered, 0o664); err != nil {
		return fmt.Errorf("manifest: render content executable: %w", err)
	}
	c.manifest.Executable = strtable.Str(path)
	return nil
}
