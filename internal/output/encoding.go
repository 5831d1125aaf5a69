package output

import (
	"bytes"
	"encoding"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
)

var (
	marshalerType     = reflect.TypeFor[json.Marshaler]()
	textMarshalerType = reflect.TypeFor[encoding.TextMarshaler]()
)

// DeterministicEncode produces byte-identical JSON output
// - Stable key ordering (sorted alphabetically)
// - Float formatting: max 6 decimal places
// - Null and empty fields omitted entirely
func DeterministicEncode(v any) ([]byte, error) {
	normalized, err := normalizeValue(reflect.ValueOf(v))
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)
	encoder.SetEscapeHTML(false)
	if err := encoder.Encode(normalized); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte{'\n'}), nil
}

// DeterministicEncodeIndented produces indented byte-identical JSON output
func DeterministicEncodeIndented(v any, indent string) ([]byte, error) {
	normalized, err := normalizeValue(reflect.ValueOf(v))
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)
	encoder.SetEscapeHTML(false)
	encoder.SetIndent("", indent)
	if err := encoder.Encode(normalized); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte{'\n'}), nil
}

// normalizeValue recursively converts a value into maps, slices and scalars
// that encoding/json renders with sorted keys. A nil result means "omit".
func normalizeValue(val reflect.Value) (any, error) {
	if !val.IsValid() {
		return nil, nil
	}

	for val.Kind() == reflect.Pointer || val.Kind() == reflect.Interface {
		if val.IsNil() {
			return nil, nil
		}
		if val.Type().Implements(marshalerType) {
			break
		}
		val = val.Elem()
	}

	if val.Type().Implements(marshalerType) {
		raw, err := val.Interface().(json.Marshaler).MarshalJSON()
		if err != nil {
			return nil, err
		}
		return json.RawMessage(raw), nil
	}

	switch val.Kind() {
	case reflect.Map:
		return normalizeMap(val)
	case reflect.Slice, reflect.Array:
		return normalizeSlice(val)
	case reflect.Struct:
		return normalizeStruct(val)
	case reflect.Float32, reflect.Float64:
		return RoundFloat(val.Float()), nil
	default:
		return val.Interface(), nil
	}
}

func normalizeMap(val reflect.Value) (any, error) {
	if val.IsNil() {
		return nil, nil
	}

	result := make(map[string]any, val.Len())
	iter := val.MapRange()
	for iter.Next() {
		key, err := mapKey(iter.Key())
		if err != nil {
			return nil, err
		}
		value, err := normalizeValue(iter.Value())
		if err != nil {
			return nil, err
		}
		if value != nil {
			result[key] = value
		}
	}

	if len(result) == 0 {
		return nil, nil
	}
	return result, nil
}

// mapKey renders a map key the way encoding/json does.
func mapKey(k reflect.Value) (string, error) {
	if k.Kind() == reflect.String {
		return k.String(), nil
	}
	if k.Type().Implements(textMarshalerType) {
		b, err := k.Interface().(encoding.TextMarshaler).MarshalText()
		return string(b), err
	}
	return fmt.Sprint(k.Interface()), nil
}

func normalizeSlice(val reflect.Value) (any, error) {
	if val.Kind() == reflect.Slice && val.IsNil() {
		return nil, nil
	}
	if val.Len() == 0 {
		return nil, nil
	}
	// []byte keeps its base64 form.
	if val.Kind() == reflect.Slice && val.Type().Elem().Kind() == reflect.Uint8 {
		return val.Interface(), nil
	}

	result := make([]any, val.Len())
	for i := range val.Len() {
		v, err := normalizeValue(val.Index(i))
		if err != nil {
			return nil, err
		}
		result[i] = v
	}
	return result, nil
}

// normalizeStruct converts a struct to a map keyed by its JSON field names.
// Exported untagged embedded structs are flattened, with the outer struct's
// fields taking precedence. Unexported embedded structs are skipped.
func normalizeStruct(val reflect.Value) (any, error) {
	result := make(map[string]any)
	typ := val.Type()

	for i := range val.NumField() {
		field := typ.Field(i)
		if !field.IsExported() {
			continue
		}

		jsonTag := field.Tag.Get("json")
		if jsonTag == "-" {
			continue
		}
		if field.Anonymous && jsonTag == "" {
			embedded, err := normalizeValue(val.Field(i))
			if err != nil {
				return nil, err
			}
			if m, ok := embedded.(map[string]any); ok {
				for k, v := range m {
					if _, taken := result[k]; !taken {
						result[k] = v
					}
				}
				continue
			}
		}
		tagName, omitEmpty := parseJSONTag(jsonTag)
		if tagName == "" {
			tagName = field.Name
		}

		normalized, err := normalizeValue(val.Field(i))
		if err != nil {
			return nil, err
		}
		if omitEmpty && isZeroValue(normalized) {
			continue
		}
		if normalized != nil {
			result[tagName] = normalized
		}
	}

	if len(result) == 0 {
		return nil, nil
	}
	return result, nil
}

func parseJSONTag(tag string) (name string, omitEmpty bool) {
	name, opts, _ := strings.Cut(tag, ",")
	for opt := range strings.SplitSeq(opts, ",") {
		if opt == "omitempty" || opt == "omitzero" {
			omitEmpty = true
		}
	}
	return name, omitEmpty
}

func isZeroValue(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Map:
		return rv.Len() == 0
	default:
		return rv.IsZero()
	}
}
