package audit

import (
	"bytes"
	"database/sql"
	"database/sql/driver"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

// Values maps a field name to its scalar value
type Values map[string]any

// ErrUnencodable matches every *EncodingError
var ErrUnencodable = errors.New("value cannot be encoded")

// EncodingError reports a field value the codec cannot represent
type EncodingError struct {
	Field  string
	Type   string
	Reason string
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("cannot encode field %q (%s): %s", e.Field, e.Type, e.Reason)
}

// Is makes errors.Is(err, ErrUnencodable) hold for any EncodingError
func (e *EncodingError) Is(target error) bool {
	return target == ErrUnencodable
}

const (
	timeTag  = "$time"
	bytesTag = "$bytes"
)

// Encode renders values as a JSON object with sorted keys. Equal inputs always
// produce byte-identical output.
//
// Integers are written as integer literals, floats always carry a fraction or an
// exponent, timestamps are written as {"$time": RFC3339Nano} and byte slices as
// {"$bytes": base64}, so Decode restores the original Go types.
func Encode(v Values) (string, error) {
	keys := make([]string, 0, len(v))
	for k := range v {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b bytes.Buffer
	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		if err := writeText(&b, k, "key", k); err != nil {
			return "", err
		}
		b.WriteByte(':')
		if err := encodeValue(&b, k, v[k]); err != nil {
			return "", err
		}
	}
	b.WriteByte('}')
	return b.String(), nil
}

// EncodeNullable encodes values, returning an invalid NullString for an empty or
// nil map. Absent columns mark fields that were legitimately skipped, such as
// OldValues on a created row.
func EncodeNullable(v Values) (sql.NullString, error) {
	if len(v) == 0 {
		return sql.NullString{}, nil
	}
	s, err := Encode(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: s, Valid: true}, nil
}

// Decode parses a string produced by Encode
func Decode(s string) (Values, error) {
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()

	var raw map[string]json.RawMessage
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("failed to decode values: %w", err)
	}
	if raw == nil {
		return nil, fmt.Errorf("failed to decode values: not an object")
	}

	out := make(Values, len(raw))
	for k, r := range raw {
		v, err := decodeValue(r)
		if err != nil {
			return nil, fmt.Errorf("failed to decode field %q: %w", k, err)
		}
		out[k] = v
	}
	return out, nil
}

// DecodeNullable decodes an optional column; an absent value yields a nil map
func DecodeNullable(s sql.NullString) (Values, error) {
	if !s.Valid {
		return nil, nil
	}
	return Decode(s.String)
}

func encodeValue(b *bytes.Buffer, field string, v any) error {
	if valuer, ok := v.(driver.Valuer); ok {
		dv, err := valuer.Value()
		if err != nil {
			return &EncodingError{Field: field, Type: fmt.Sprintf("%T", v), Reason: err.Error()}
		}
		v = dv
	}

	switch x := v.(type) {
	case nil:
		b.WriteString("null")
	case string:
		return writeText(b, field, "string", x)
	case bool:
		b.WriteString(strconv.FormatBool(x))
	case int:
		b.WriteString(strconv.FormatInt(int64(x), 10))
	case int8:
		b.WriteString(strconv.FormatInt(int64(x), 10))
	case int16:
		b.WriteString(strconv.FormatInt(int64(x), 10))
	case int32:
		b.WriteString(strconv.FormatInt(int64(x), 10))
	case int64:
		b.WriteString(strconv.FormatInt(x, 10))
	case uint:
		b.WriteString(strconv.FormatUint(uint64(x), 10))
	case uint8:
		b.WriteString(strconv.FormatUint(uint64(x), 10))
	case uint16:
		b.WriteString(strconv.FormatUint(uint64(x), 10))
	case uint32:
		b.WriteString(strconv.FormatUint(uint64(x), 10))
	case uint64:
		b.WriteString(strconv.FormatUint(x, 10))
	case float32:
		return writeFloat(b, field, float64(x), 32)
	case float64:
		return writeFloat(b, field, x, 64)
	case time.Time:
		writeTagged(b, timeTag, x.UTC().Format(time.RFC3339Nano))
	case []byte:
		writeTagged(b, bytesTag, base64.StdEncoding.EncodeToString(x))
	case fmt.Stringer:
		// Named numbers such as time.Duration keep their numeric value
		if isNumericKind(reflect.ValueOf(v).Kind()) {
			return encodeReflect(b, field, v)
		}
		return writeText(b, field, fmt.Sprintf("%T", v), x.String())
	default:
		return encodeReflect(b, field, v)
	}
	return nil
}

// encodeReflect handles pointers and named scalar types such as `type Role string`
func encodeReflect(b *bytes.Buffer, field string, v any) error {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer:
		if rv.IsNil() {
			b.WriteString("null")
			return nil
		}
		return encodeValue(b, field, rv.Elem().Interface())
	case reflect.String:
		return writeText(b, field, fmt.Sprintf("%T", v), rv.String())
	case reflect.Bool:
		b.WriteString(strconv.FormatBool(rv.Bool()))
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		b.WriteString(strconv.FormatInt(rv.Int(), 10))
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		b.WriteString(strconv.FormatUint(rv.Uint(), 10))
	case reflect.Float32:
		return writeFloat(b, field, rv.Float(), 32)
	case reflect.Float64:
		return writeFloat(b, field, rv.Float(), 64)
	default:
		return &EncodingError{Field: field, Type: fmt.Sprintf("%T", v), Reason: "unsupported type"}
	}
	return nil
}

func writeFloat(b *bytes.Buffer, field string, f float64, bits int) error {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return &EncodingError{Field: field, Type: fmt.Sprintf("float%d", bits), Reason: "not a finite number"}
	}
	s := strconv.FormatFloat(f, 'g', -1, bits)
	if !strings.ContainsAny(s, ".eE") {
		s += ".0"
	}
	b.WriteString(s)
	return nil
}

func isNumericKind(k reflect.Kind) bool {
	switch k {
	case reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}

// writeText rejects strings JSON would silently rewrite with U+FFFD
func writeText(b *bytes.Buffer, field, typ, s string) error {
	if !utf8.ValidString(s) {
		return &EncodingError{Field: field, Type: typ, Reason: "invalid UTF-8"}
	}
	writeString(b, s)
	return nil
}

func writeString(b *bytes.Buffer, s string) {
	// json.Marshal of a string cannot fail
	out, _ := json.Marshal(s)
	b.Write(out)
}

func writeTagged(b *bytes.Buffer, tag, value string) {
	b.WriteByte('{')
	writeString(b, tag)
	b.WriteByte(':')
	writeString(b, value)
	b.WriteByte('}')
}

func decodeValue(r json.RawMessage) (any, error) {
	r = bytes.TrimSpace(r)
	if len(r) == 0 {
		return nil, fmt.Errorf("empty value")
	}

	switch r[0] {
	case 'n':
		return nil, nil
	case 't', 'f':
		var v bool
		err := json.Unmarshal(r, &v)
		return v, err
	case '"':
		var v string
		err := json.Unmarshal(r, &v)
		return v, err
	case '{':
		return decodeTagged(r)
	default:
		return decodeNumber(string(r))
	}
}

func decodeTagged(r json.RawMessage) (any, error) {
	var tagged map[string]string
	if err := json.Unmarshal(r, &tagged); err != nil {
		return nil, fmt.Errorf("unsupported object value: %w", err)
	}
	if len(tagged) != 1 {
		return nil, fmt.Errorf("unsupported object value")
	}

	if s, ok := tagged[timeTag]; ok {
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return nil, err
		}
		return t.UTC(), nil
	}
	if s, ok := tagged[bytesTag]; ok {
		return base64.StdEncoding.DecodeString(s)
	}
	return nil, fmt.Errorf("unsupported object value")
}

func decodeNumber(s string) (any, error) {
	if strings.ContainsAny(s, ".eE") {
		return strconv.ParseFloat(s, 64)
	}
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i, nil
	}
	return strconv.ParseUint(s, 10, 64)
}
