package config

import (
	"path/filepath"
	"reflect"
	"strings"

	"github.com/thebtf/midas/pkg/apierr"
)

// SettingEntry is one leaf of the editable configuration schema: a
// dotted path, its Go type name, and its current value. Produced by a
// reflection walk over Config, skipping any field tagged sensitive:"true".
type SettingEntry struct {
	Path  string `json:"path"`
	Type  string `json:"type"`
	Value any    `json:"value"`
}

// EditableSnapshot walks the live Config tree and returns every
// non-sensitive leaf as a flat {path, type, value} entry, generalizing
// the teacher's ad hoc settings-dict export into a typed schema.
func (h *Handle) EditableSnapshot() []SettingEntry {
	var entries []SettingEntry
	walkEditable(reflect.ValueOf(h.Get()).Elem(), "", &entries)
	return entries
}

func walkEditable(v reflect.Value, prefix string, out *[]SettingEntry) {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if field.Tag.Get("sensitive") == "true" {
			continue
		}
		name := yamlFieldName(field)
		path := name
		if prefix != "" {
			path = prefix + "." + name
		}
		fv := v.Field(i)
		if fv.Kind() == reflect.Struct {
			walkEditable(fv, path, out)
			continue
		}
		*out = append(*out, SettingEntry{
			Path:  path,
			Type:  fv.Type().String(),
			Value: fv.Interface(),
		})
	}
}

func yamlFieldName(f reflect.StructField) string {
	tag := f.Tag.Get("yaml")
	if tag == "" {
		return strings.ToLower(f.Name)
	}
	if idx := strings.IndexByte(tag, ','); idx >= 0 {
		tag = tag[:idx]
	}
	if tag == "" {
		return strings.ToLower(f.Name)
	}
	return tag
}

// ApplyPatch deep-merges patch onto a clone of the live configuration,
// rejecting unknown, sensitive, or type-mismatched keys with
// INVALID_INPUT, and only then atomically swaps the pointer — so a
// rejected patch never partially applies.
func (h *Handle) ApplyPatch(patch map[string]any) error {
	cfg := *h.Get()
	for path, value := range patch {
		if err := applyOne(&cfg, path, value); err != nil {
			return err
		}
	}
	resolvePaths(&cfg, filepath.Dir(h.path))
	if err := writeYAML(h.path, &cfg); err != nil {
		return apierr.Wrap(apierr.Internal, err, "persist config patch")
	}
	h.current.Store(&cfg)
	return nil
}

func applyOne(cfg *Config, path string, value any) error {
	segs := strings.Split(path, ".")
	v := reflect.ValueOf(cfg).Elem()
	for i, seg := range segs {
		fv, tag, ok := fieldByYAMLName(v, seg)
		if !ok {
			return apierr.Newf(apierr.InvalidInput, "unknown config key %q", path)
		}
		if tag == "true" {
			return apierr.Newf(apierr.InvalidInput, "config key %q is sensitive and cannot be set here", path)
		}
		last := i == len(segs)-1
		if !last {
			if fv.Kind() != reflect.Struct {
				return apierr.Newf(apierr.InvalidInput, "config key %q does not traverse further", path)
			}
			v = fv
			continue
		}
		return setField(fv, path, value)
	}
	return nil
}

func fieldByYAMLName(v reflect.Value, name string) (reflect.Value, string, bool) {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if yamlFieldName(f) == name {
			return v.Field(i), f.Tag.Get("sensitive"), true
		}
	}
	return reflect.Value{}, "", false
}

func setField(fv reflect.Value, path string, value any) error {
	rv := reflect.ValueOf(value)
	if !rv.IsValid() {
		return apierr.Newf(apierr.InvalidInput, "config key %q: nil value not allowed", path)
	}
	switch fv.Kind() {
	case reflect.String:
		s, ok := value.(string)
		if !ok {
			return apierr.Newf(apierr.InvalidInput, "config key %q expects a string", path)
		}
		fv.SetString(s)
	case reflect.Bool:
		b, ok := value.(bool)
		if !ok {
			return apierr.Newf(apierr.InvalidInput, "config key %q expects a bool", path)
		}
		fv.SetBool(b)
	case reflect.Int, reflect.Int32, reflect.Int64:
		n, ok := toInt(value)
		if !ok {
			return apierr.Newf(apierr.InvalidInput, "config key %q expects an integer", path)
		}
		fv.SetInt(n)
	case reflect.Float32, reflect.Float64:
		f, ok := toFloat(value)
		if !ok {
			return apierr.Newf(apierr.InvalidInput, "config key %q expects a number", path)
		}
		fv.SetFloat(f)
	case reflect.Slice:
		if fv.Type().Elem().Kind() != reflect.String {
			return apierr.Newf(apierr.InvalidInput, "config key %q has an unsupported slice element type", path)
		}
		items, ok := value.([]any)
		if !ok {
			return apierr.Newf(apierr.InvalidInput, "config key %q expects a list of strings", path)
		}
		strs := make([]string, 0, len(items))
		for _, it := range items {
			s, ok := it.(string)
			if !ok {
				return apierr.Newf(apierr.InvalidInput, "config key %q: non-string list element", path)
			}
			strs = append(strs, s)
		}
		fv.Set(reflect.ValueOf(strs))
	default:
		return apierr.Newf(apierr.InvalidInput, "config key %q has an unsupported type %s", path, fv.Kind())
	}
	return nil
}

func toInt(value any) (int64, bool) {
	switch n := value.(type) {
	case int:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		return int64(n), true
	}
	return 0, false
}

func toFloat(value any) (float64, bool) {
	switch n := value.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

