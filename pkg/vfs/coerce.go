package vfs

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

// truthyWords are the spellings accepted as true when a boolean member is
// edited through the tree. Anything else is false; editing a bool never
// fails.
var truthyWords = map[string]bool{
	"1":    true,
	"t":    true,
	"true": true,
	"yes":  true,
	"on":   true,
}

// coerceValue parses edited file text back into the type the member held
// before the edit. The returned value has exactly the previous type, named
// types included, so the write-back assignment cannot mismatch.
//
// Composite previous types cannot be rebuilt from flat text and return an
// error, which the committing caller drops.
func coerceValue(t reflect.Type, text string) (any, error) {
	trimmed := strings.TrimSpace(text)

	switch t.Kind() {
	case reflect.Bool:
		v := truthyWords[strings.ToLower(trimmed)]
		return reflect.ValueOf(v).Convert(t).Interface(), nil

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(trimmed, 10, t.Bits())
		if err != nil {
			return nil, fmt.Errorf("parse %q as %s: %w", trimmed, t, err)
		}
		return reflect.ValueOf(n).Convert(t).Interface(), nil

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := strconv.ParseUint(trimmed, 10, t.Bits())
		if err != nil {
			return nil, fmt.Errorf("parse %q as %s: %w", trimmed, t, err)
		}
		return reflect.ValueOf(n).Convert(t).Interface(), nil

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(trimmed, t.Bits())
		if err != nil {
			return nil, fmt.Errorf("parse %q as %s: %w", trimmed, t, err)
		}
		return reflect.ValueOf(f).Convert(t).Interface(), nil

	case reflect.Complex64, reflect.Complex128:
		c, err := strconv.ParseComplex(trimmed, t.Bits())
		if err != nil {
			return nil, fmt.Errorf("parse %q as %s: %w", trimmed, t, err)
		}
		return reflect.ValueOf(c).Convert(t).Interface(), nil

	case reflect.String:
		// Edits to string members keep their whitespace.
		return reflect.ValueOf(text).Convert(t).Interface(), nil

	case reflect.Interface:
		// An interface member keeps the edited text as a plain string.
		return text, nil
	}

	return nil, fmt.Errorf("cannot rebuild %s from text", t)
}

// renderValue stringifies a member for its leaf buffer.
func renderValue(v any) []byte {
	if v == nil {
		return []byte("<nil>")
	}
	if b, ok := v.([]byte); ok {
		return append([]byte(nil), b...)
	}
	return []byte(fmt.Sprint(v))
}
