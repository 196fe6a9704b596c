package manifest

import (
	"fmt"

	"github.com/xyproto/wrapstub/strtable"
)

func (c *cx) fromJSON(value *Value) error {
	if value.Kind != KindObject {
		return fmt.Errorf("manifest: expected an object at top level")
	}
	for o := value.Object; o != nil; o = o.Next {
		if o.Value == nil {
			continue
		}
		var err error
		switch string(o.Key) {
		case "interpreter":
			err = c.createInterpreter(o.Value)
		case "executable":
			err = c.createExecutable(o.Value)
		case "env":
			err = c.createEnv(o.Value)
		case "args":
			err = c.createArgs(o.Value)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (c *cx) createInterpreter(value *Value) error {
	if value.Kind != KindObject {
		return fmt.Errorf("manifest: interpreter: expected an object")
	}
	o := value.Object
	kind := o.Get("kind")
	if kind == nil || kind.Kind != KindString {
		return fmt.Errorf("manifest: interpreter: expected a kind string")
	}
	switch string(kind.Str) {
	case "normal":
		c.manifest.InterpreterKind = InterpreterNormal
	case "ld-linux":
		c.manifest.InterpreterKind = InterpreterLDLinux
	case "ld-musl":
		c.manifest.InterpreterKind = InterpreterLDMusl
	case "dyld":
		return fmt.Errorf("manifest: interpreter: dyld is unsupported in this context")
	default:
		return fmt.Errorf("manifest: interpreter: unknown kind %q", kind.Str)
	}

	path := o.Get("path")
	if path == nil {
		return fmt.Errorf("manifest: interpreter: expected a path")
	}
	rendered, err := c.renderTemplate(path)
	if err != nil {
		return err
	}
	c.manifest.Interpreter = rendered

	if libraryPaths := o.Get("libraryPaths"); libraryPaths != nil {
		paths, err := c.createTemplateList(libraryPaths)
		if err != nil {
			return fmt.Errorf("manifest: interpreter: libraryPaths: %w", err)
		}
		c.manifest.LibraryPaths = paths
	}
	if preloads := o.Get("preloads"); preloads != nil {
		paths, err := c.createTemplateList(preloads)
		if err != nil {
			return fmt.Errorf("manifest: interpreter: preloads: %w", err)
		}
		c.manifest.Preloads = paths
	}
	if args := o.Get("args"); args != nil {
		argv, err := c.createTemplateList(args)
		if err != nil {
			return fmt.Errorf("manifest: interpreter: args: %w", err)
		}
		c.manifest.InterpArgv = argv
	}
	return nil
}

// createTemplateList renders every element of a JSON array of
// templates, in order.
func (c *cx) createTemplateList(value *Value) ([]strtable.Str, error) {
	if value.Kind != KindArray {
		return nil, fmt.Errorf("expected an array")
	}
	n := value.Array.Len()
	out := make([]strtable.Str, n)
	a := value.Array
	for i := 0; i < n; i++ {
		s, err := c.renderTemplate(a.Value)
		if err != nil {
			return nil, err
		}
		out[i] = s
		a = a.Next
	}
	return out, nil
}

func (c *cx) createExecutable(value *Value) error {
	if value.Kind != KindObject {
		return fmt.Errorf("manifest: executable: expected an object")
	}
	o := value.Object
	kind := o.Get("kind")
	if kind == nil || kind.Kind != KindString {
		return fmt.Errorf("manifest: executable: missing kind")
	}
	switch string(kind.Str) {
	case "path":
		v := o.Get("value")
		if v == nil {
			return fmt.Errorf("manifest: executable: missing value")
		}
		rendered, err := c.renderTemplate(v)
		if err != nil {
			return err
		}
		c.manifest.Executable = rendered
	case "content":
		v := o.Get("value")
		if v == nil {
			return fmt.Errorf("manifest: executable: missing value")
		}
		return c.renderTemplateToTemp(v)
	case "address":
		v := o.Get("value")
		if v == nil || v.Kind != KindNumber {
			return fmt.Errorf("manifest: executable: expected a number")
		}
		c.manifest.Entrypoint = uint64(v.Number)
	default:
		return fmt.Errorf("manifest: executable: unknown kind %q", kind.Str)
	}
	return nil
}

func (c *cx) createArgs(value *Value) error {
	if value.Kind != KindArray {
		return fmt.Errorf("manifest: args: expected an array")
	}
	argv, err := c.createTemplateList(value)
	if err != nil {
		return fmt.Errorf("manifest: args: %w", err)
	}
	c.manifest.Argv = argv
	return nil
}

func (c *cx) createEnv(value *Value) error {
	if value.Kind != KindObject {
		return fmt.Errorf("manifest: env: expected an object")
	}
	o := value.Object
	kind := o.Get("kind")
	if kind == nil || kind.Kind != KindString {
		return fmt.Errorf("manifest: env: missing kind")
	}
	switch string(kind.Str) {
	case "unset":
		c.manifest.Env.Clear()
	case "set":
		v := o.Get("value")
		if v == nil || v.Kind != KindObject {
			return fmt.Errorf("manifest: env: expected a value object")
		}
		inner := v.Object
		innerKind := inner.Get("kind")
		if innerKind == nil || innerKind.Kind != KindString || string(innerKind.Str) != "map" {
			return fmt.Errorf("manifest: env: expected a map")
		}
		mapValue := inner.Get("value")
		if mapValue == nil || mapValue.Kind != KindObject {
			return fmt.Errorf("manifest: env: expected a map object")
		}
		return c.applyEnv(mapValue.Object)
	default:
		return fmt.Errorf("manifest: env: unsupported mutation type %q", kind.Str)
	}
	return nil
}
