package validation

import (
	"reflect"
	"strings"
	"sync"
)

const (
	trueValue = "true"
)

// TagInfo represents the validation metadata of one struct field
type TagInfo struct {
	Name        string            // Go field name
	JSONName    string            // JSON field name (from json tag)
	Required    bool              // Whether field is required
	Constraints map[string]string // Validation constraints from validate tag
}

// FieldName returns the name the API knows the field by
func (t TagInfo) FieldName() string {
	if t.JSONName != "" && t.JSONName != "-" {
		return t.JSONName
	}
	return t.Name
}

var tagCache sync.Map // reflect.Type -> []TagInfo

// ParseValidationTags extracts validation metadata from a struct type.
// Results are cached per type.
func ParseValidationTags(t reflect.Type) []TagInfo {
	if t == nil {
		return nil
	}
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return nil
	}
	if cached, ok := tagCache.Load(t); ok {
		return cached.([]TagInfo)
	}

	tags := make([]TagInfo, 0, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}

		info := TagInfo{
			Name:        field.Name,
			JSONName:    jsonName(field.Tag),
			Constraints: make(map[string]string),
		}
		if validate := field.Tag.Get("validate"); validate != "" {
			parseValidateTag(validate, info.Constraints)
		}
		_, info.Required = info.Constraints["required"]
		tags = append(tags, info)
	}

	tagCache.Store(t, tags)
	return tags
}

// lookupField finds the tag info for a Go field name
func lookupField(t reflect.Type, name string) (TagInfo, bool) {
	for _, info := range ParseValidationTags(t) {
		if info.Name == name {
			return info, true
		}
	}
	return TagInfo{}, false
}

func jsonName(tag reflect.StructTag) string {
	json := tag.Get("json")
	if json == "" {
		return ""
	}
	name, _, _ := strings.Cut(json, ",")
	return name
}

// parseValidateTag parses a validate tag into constraint map
func parseValidateTag(validate string, constraints map[string]string) {
	for _, part := range strings.Split(validate, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		// Simple flags like "required"
		key, value, found := strings.Cut(part, "=")
		if !found {
			constraints[part] = trueValue
			continue
		}

		// key=value constraints like "min=1", "max=100"
		constraints[strings.TrimSpace(key)] = strings.Trim(strings.TrimSpace(value), `"`)
	}
}
