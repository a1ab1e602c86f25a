package vfs

import (
	"fmt"
	"reflect"
	"regexp"
	"strings"
)

// maxNameLen caps derived display names. Longer names are truncated, not
// rejected, so a verbose Stringer cannot break an export.
const maxNameLen = 255

var templateRef = regexp.MustCompile(`\{([^{}]+)\}`)

// displayNameFor derives the tree name for an exported root object.
//
// The rules apply in order until one produces a usable name:
//
//  1. the export's name template, with "@member" naming a single member
//     and "{member}" references expanding inside literal text
//  2. the value's fmt.Stringer output, if it contains no slash
//  3. the stringified value, for scalar kinds
//  4. "Type [0xaddr]" from the value's type and identity
//
// A derived name that is empty, reserved, or slash-ridden falls through to
// the next rule.
func displayNameFor(v any, cfg *ExportConfig) string {
	if cfg.NameTemplate != "" {
		if name, ok := expandTemplate(v, cfg); ok {
			if s, ok := usableName(name); ok {
				return s
			}
		}
	}

	if str, ok := v.(fmt.Stringer); ok {
		if s := safeString(str); !strings.Contains(s, "/") {
			if s, ok := usableName(s); ok {
				return s
			}
		}
	}

	if isScalar(v) {
		if s, ok := usableName(fmt.Sprint(v)); ok {
			return s
		}
	}

	label := typeLabel(v)
	if id, ok := identityOf(v); ok {
		return fmt.Sprintf("%s [0x%x]", label, id)
	}
	if label != "" {
		return label
	}
	return fmt.Sprintf("0x%x", reflect.ValueOf(&v).Pointer())
}

// expandTemplate applies the export's name template to the value.
// "@member" uses that member's stringified value as the whole name; any
// other template has its "{member}" references replaced in place. A
// reference to a member the value does not have fails the expansion.
func expandTemplate(v any, cfg *ExportConfig) (string, bool) {
	tpl := cfg.NameTemplate
	if strings.HasPrefix(tpl, "@") {
		member, ok := getMember(v, tpl[1:], cfg)
		if !ok {
			return "", false
		}
		return fmt.Sprint(member), true
	}

	ok := true
	expanded := templateRef.ReplaceAllStringFunc(tpl, func(ref string) string {
		member, found := getMember(v, ref[1:len(ref)-1], cfg)
		if !found {
			ok = false
			return ""
		}
		return fmt.Sprint(member)
	})
	if !ok {
		return "", false
	}
	return expanded, true
}

// usableName sanitizes a derived name: slashes become underscores, the
// result is trimmed and truncated. Names that end up empty or reserved are
// rejected.
func usableName(s string) (string, bool) {
	s = strings.TrimSpace(strings.ReplaceAll(s, "/", "_"))
	if len(s) > maxNameLen {
		s = s[:maxNameLen]
	}
	if !validName(s) {
		return "", false
	}
	return s, true
}

// safeString calls a Stringer without letting a panicking implementation
// take the sync pass down with it.
func safeString(str fmt.Stringer) (s string) {
	defer func() {
		if recover() != nil {
			s = ""
		}
	}()
	return str.String()
}

func isScalar(v any) bool {
	if v == nil {
		return false
	}
	switch reflect.ValueOf(v).Kind() {
	case reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64,
		reflect.Complex64, reflect.Complex128,
		reflect.String:
		return true
	}
	return false
}

// typeLabel names a value's type without its package qualifier, pointer
// indirections stripped.
func typeLabel(v any) string {
	t := reflect.TypeOf(v)
	if t == nil {
		return ""
	}
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	name := t.Name()
	if name == "" {
		name = t.String()
	}
	if i := strings.LastIndex(name, "."); i >= 0 {
		name = name[i+1:]
	}
	return name
}
