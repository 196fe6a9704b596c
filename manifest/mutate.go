package manifest

import (
	"fmt"

	"github.com/xyproto/wrapstub/strtable"
)

func (c *cx) applyEnv(env *Object) error {
	for ; env != nil; env = env.Next {
		if env.Value == nil {
			continue
		}
		key := env.Key
		if env.Value.Kind == KindArray {
			for a := env.Value.Array; a != nil; a = a.Next {
				if a.Value == nil {
					continue
				}
				if a.Value.Kind != KindObject {
					return fmt.Errorf("manifest: env: expected an object in mutation list")
				}
				if err := c.applyMutationToKey(key, a.Value.Object); err != nil {
					return err
				}
			}
			continue
		}
		if err := c.applyValueToKey(key, env.Value); err != nil {
			return err
		}
	}
	return nil
}

func (c *cx) applyMutationToKey(key strtable.Str, mutation *Object) error {
	kind := mutation.Get("kind")
	if kind == nil || kind.Kind != KindString {
		return fmt.Errorf("manifest: mutation: missing kind")
	}

	switch string(kind.Str) {
	case "unset":
		c.manifest.Env.Remove(key)
		return nil

	case "set":
		v := mutation.Get("value")
		if v == nil {
			return fmt.Errorf("manifest: mutation: set: missing value")
		}
		return c.applyValueToKey(key, v)

	// Both spellings are accepted on input: the manifest format's
	// own predicate for "is this a mutation object" checks the hyphenated
	// form while its dispatch switch checks the underscored form.
	case "set_if_unset", "set-if-unset":
		if _, ok := c.manifest.Env.Lookup(key); !ok {
			v := mutation.Get("value")
			if v == nil {
				return fmt.Errorf("manifest: mutation: set_if_unset: missing value")
			}
			return c.applyValueToKey(key, v)
		}
		return nil

	case "prepend":
		values := mutation.Get("values")
		if values == nil || values.Kind != KindArray {
			return fmt.Errorf("manifest: mutation: prepend: expected an array")
		}
		parts, err := stringArray(values.Array)
		if err != nil {
			return err
		}
		existing, _ := c.manifest.Env.Lookup(key)
		all := append(append([]strtable.Str{}, parts...), existing)
		joined, err := strtable.Join(c.arena, ':', all)
		if err != nil {
			return err
		}
		c.manifest.Env.Insert(key, joined)
		return nil

	case "append":
		values := mutation.Get("values")
		if values == nil || values.Kind != KindArray {
			return fmt.Errorf("manifest: mutation: append: expected an array")
		}
		parts, err := stringArray(values.Array)
		if err != nil {
			return err
		}
		existing, ok := c.manifest.Env.Lookup(key)
		all := parts
		if ok {
			all = append(append([]strtable.Str{}, parts...), existing)
		}
		joined, err := strtable.Join(c.arena, ':', all)
		if err != nil {
			return err
		}
		c.manifest.Env.Insert(key, joined)
		return nil

	case "prefix":
		existing, ok := c.manifest.Env.Lookup(key)
		rendered, err := c.renderedTemplateOf(mutation)
		if err != nil {
			return err
		}
		if !ok {
			c.manifest.Env.Insert(key, rendered)
			return nil
		}
		sep, err := separatorOf(mutation)
		if err != nil {
			return err
		}
		joined, err := strtable.Join(c.arena, sep, []strtable.Str{rendered, existing})
		if err != nil {
			return err
		}
		c.manifest.Env.Insert(key, joined)
		return nil

	case "suffix":
		existing, ok := c.manifest.Env.Lookup(key)
		rendered, err := c.renderedTemplateOf(mutation)
		if err != nil {
			return err
		}
		if !ok {
			c.manifest.Env.Insert(key, rendered)
			return nil
		}
		sep, err := separatorOf(mutation)
		if err != nil {
			return err
		}
		joined, err := strtable.Join(c.arena, sep, []strtable.Str{existing, rendered})
		if err != nil {
			return err
		}
		c.manifest.Env.Insert(key, joined)
		return nil

	case "merge":
		return fmt.Errorf("manifest: mutation: merge is not supported for environment variables")

	default:
		return fmt.Errorf("manifest: mutation: unsupported kind %q", kind.Str)
	}
}

func (c *cx) renderedTemplateOf(mutation *Object) (strtable.Str, error) {
	tmpl := mutation.Get("template")
	if tmpl == nil {
		return nil, fmt.Errorf("manifest: mutation: expected a template")
	}
	return c.renderTemplate(tmpl)
}

func separatorOf(mutation *Object) (byte, error) {
	sep := mutation.Get("separator")
	if sep == nil {
		return 0, nil
	}
	if sep.Kind != KindString || len(sep.Str) != 1 {
		return 0, fmt.Errorf("manifest: mutation: separator must be a single-byte string")
	}
	return sep.Str[0], nil
}

func stringArray(a *Array) ([]strtable.Str, error) {
	n := a.Len()
	out := make([]strtable.Str, n)
	itr := a
	for i := 0; i < n; i++ {
		if itr.Value.Kind != KindString {
			return nil, fmt.Errorf("manifest: expected a string in array")
		}
		out[i] = itr.Value.Str
		itr = itr.Next
	}
	return out, nil
}

func (c *cx) applyValueToKey(key strtable.Str, val *Value) error {
	if val.Kind == KindObject {
		kind := val.Object.Get("kind")
		if kind != nil && kind.Kind == KindString && string(kind.Str) == "mutation" {
			inner := val.Object.Get("value")
			if inner == nil || inner.Kind != KindObject {
				return fmt.Errorf("manifest: mutation wrapper: expected an object")
			}
			return c.applyMutationToKey(key, inner.Object)
		}
	}
	rendered, err := c.renderValue(val)
	if err != nil {
		return err
	}
	c.manifest.Env.Insert(key, rendered)
	return nil
}

// finishEnv renders LD_LIBRARY_PATH/LD_PRELOAD from the interpreter's
// library paths and preloads and folds them into the environment,
// preserving a deliberate asymmetry: a prior
// LD_LIBRARY_PATH always yields a RESTORE sentinel, its absence yields a
// CLEAR sentinel; LD_PRELOAD always gets a CLEAR sentinel, plus a
// RESTORE sentinel only if a prior value existed.
func (c *cx) finishEnv() error {
	m := c.manifest
	env := m.Env

	if len(m.LibraryPaths) > 0 {
		rendered, err := strtable.Join(c.arena, ':', m.LibraryPaths)
		if err != nil {
			return err
		}
		key := strtable.Str("LD_LIBRARY_PATH")
		if existing, ok := env.Lookup(key); ok {
			joined, err := strtable.Join(c.arena, ':', []strtable.Str{existing, rendered})
			if err != nil {
				return err
			}
			rendered = joined
			env.Insert(strtable.Str("TANGRAM_RESTORE_LD_LIBRARY_PATH"), existing)
		} else {
			env.Insert(strtable.Str("TANGRAM_CLEAR_LD_LIBRARY_PATH"), strtable.Str("true"))
		}
		m.LDLibraryPath = rendered
		env.Insert(key, rendered)
	}

	if len(m.Preloads) > 0 {
		rendered, err := strtable.Join(c.arena, ':', m.Preloads)
		if err != nil {
			return err
		}
		key := strtable.Str("LD_PRELOAD")
		if existing, ok := env.Lookup(key); ok {
			joined, err := strtable.Join(c.arena, ':', []strtable.Str{existing, rendered})
			if err != nil {
				return err
			}
			rendered = joined
			env.Insert(strtable.Str("TANGRAM_RESTORE_LD_PRELOAD"), existing)
		}
		env.Insert(strtable.Str("TANGRAM_CLEAR_LD_PRELOAD"), strtable.Str("true"))
		m.LDPreload = rendered
		env.Insert(key, rendered)
	}
	return nil
}
