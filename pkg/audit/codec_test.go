package audit

import (
	"database/sql"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type roleName string

func TestEncode(t *testing.T) {
	t.Run("sorted keys", func(t *testing.T) {
		out, err := Encode(Values{"b": 2, "a": "x", "c": nil})
		require.NoError(t, err)
		assert.Equal(t, `{"a":"x","b":2,"c":null}`, out)
	})

	t.Run("deterministic", func(t *testing.T) {
		v := Values{"id": int64(7), "name": "alice", "score": 1.5, "active": true}
		first, err := Encode(v)
		require.NoError(t, err)
		for i := 0; i < 20; i++ {
			again, err := Encode(v)
			require.NoError(t, err)
			assert.Equal(t, first, again)
		}
	})

	t.Run("empty map", func(t *testing.T) {
		out, err := Encode(Values{})
		require.NoError(t, err)
		assert.Equal(t, "{}", out)
	})

	t.Run("integral float keeps a fraction", func(t *testing.T) {
		out, err := Encode(Values{"f": 1.0, "i": 1})
		require.NoError(t, err)
		assert.Equal(t, `{"f":1.0,"i":1}`, out)
	})

	t.Run("tagged values", func(t *testing.T) {
		ts := time.Date(2024, 3, 1, 12, 30, 0, 500, time.UTC)
		out, err := Encode(Values{"at": ts, "raw": []byte{0x01, 0x02}})
		require.NoError(t, err)
		assert.Equal(t, `{"at":{"$time":"2024-03-01T12:30:00.0000005Z"},"raw":{"$bytes":"AQI="}}`, out)
	})

	t.Run("valuer and stringer", func(t *testing.T) {
		id := uuid.MustParse("7d444840-9dc0-11d1-b245-5ffdce74fad2")
		out, err := Encode(Values{
			"id":    id,
			"email": sql.NullString{String: "a@example.com", Valid: true},
			"phone": sql.NullString{},
		})
		require.NoError(t, err)
		assert.Equal(t, `{"email":"a@example.com","id":"7d444840-9dc0-11d1-b245-5ffdce74fad2","phone":null}`, out)
	})

	t.Run("named and pointer types", func(t *testing.T) {
		n := 42
		var missing *string
		out, err := Encode(Values{"role": roleName("admin"), "n": &n, "missing": missing})
		require.NoError(t, err)
		assert.Equal(t, `{"missing":null,"n":42,"role":"admin"}`, out)
	})

	t.Run("escaping", func(t *testing.T) {
		out, err := Encode(Values{`we"ird`: "line\nbreak"})
		require.NoError(t, err)
		assert.Equal(t, `{"we\"ird":"line\nbreak"}`, out)
	})

	t.Run("unsupported type", func(t *testing.T) {
		_, err := Encode(Values{"ch": make(chan int)})
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrUnencodable))

		var encErr *EncodingError
		require.True(t, errors.As(err, &encErr))
		assert.Equal(t, "ch", encErr.Field)
		assert.Equal(t, "chan int", encErr.Type)
	})

	t.Run("nested map", func(t *testing.T) {
		_, err := Encode(Values{"m": map[string]int{"a": 1}})
		assert.ErrorIs(t, err, ErrUnencodable)
	})

	t.Run("non-finite float", func(t *testing.T) {
		_, err := Encode(Values{"nan": math.NaN()})
		assert.ErrorIs(t, err, ErrUnencodable)

		_, err = Encode(Values{"inf": math.Inf(1)})
		assert.ErrorIs(t, err, ErrUnencodable)
	})
}

func TestDecode(t *testing.T) {
	t.Run("round trip keeps types", func(t *testing.T) {
		ts := time.Date(2024, 3, 1, 12, 30, 0, 123456000, time.UTC)
		in := Values{
			"id":      int64(42),
			"big":     uint64(math.MaxUint64),
			"neg":     int64(-7),
			"score":   2.0,
			"ratio":   0.25,
			"name":    "alice",
			"active":  false,
			"deleted": nil,
			"at":      ts,
			"raw":     []byte("hello"),
		}

		s, err := Encode(in)
		require.NoError(t, err)

		out, err := Decode(s)
		require.NoError(t, err)
		assert.Equal(t, in, out)
	})

	t.Run("narrow ints widen to int64", func(t *testing.T) {
		s, err := Encode(Values{"a": int32(5), "b": uint8(3)})
		require.NoError(t, err)

		out, err := Decode(s)
		require.NoError(t, err)
		assert.Equal(t, Values{"a": int64(5), "b": int64(3)}, out)
	})

	t.Run("non-UTC time decodes as UTC instant", func(t *testing.T) {
		loc := time.FixedZone("UTC+2", 2*60*60)
		ts := time.Date(2024, 3, 1, 14, 0, 0, 0, loc)

		s, err := Encode(Values{"at": ts})
		require.NoError(t, err)

		out, err := Decode(s)
		require.NoError(t, err)
		decoded := out["at"].(time.Time)
		assert.True(t, decoded.Equal(ts))
		assert.Equal(t, time.UTC, decoded.Location())
	})

	t.Run("multi-byte text round trips", func(t *testing.T) {
		in := Values{"name": "Zoë 日本", "emoji": "\U0001F600"}
		s, err := Encode(in)
		require.NoError(t, err)

		out, err := Decode(s)
		require.NoError(t, err)
		assert.Equal(t, in, out)
	})

	t.Run("invalid UTF-8 is rejected", func(t *testing.T) {
		for name, in := range map[string]Values{
			"string":     {"name": "a\xffb"},
			"named":      {"role": roleName("ad\xc3min")},
			"field name": {"bad\xfe": "ok"},
			"valuer":     {"name": sql.NullString{String: "\xff", Valid: true}},
		} {
			_, err := Encode(in)
			assert.ErrorIs(t, err, ErrUnencodable, name)
		}

		var encErr *EncodingError
		_, err := Encode(Values{"name": "a\xffb"})
		require.ErrorAs(t, err, &encErr)
		assert.Equal(t, "name", encErr.Field)
		assert.Equal(t, "invalid UTF-8", encErr.Reason)
	})

	t.Run("named numbers keep their numeric value", func(t *testing.T) {
		s, err := Encode(Values{"ttl": 5 * time.Second, "month": time.March})
		require.NoError(t, err)
		assert.Equal(t, `{"month":3,"ttl":5000000000}`, s)

		out, err := Decode(s)
		require.NoError(t, err)
		assert.Equal(t, Values{"month": int64(3), "ttl": int64(5 * time.Second)}, out)
	})

	t.Run("empty object", func(t *testing.T) {
		out, err := Decode("{}")
		require.NoError(t, err)
		assert.NotNil(t, out)
		assert.Empty(t, out)
	})

	t.Run("invalid input", func(t *testing.T) {
		for _, s := range []string{"", "[]", "null", `{"a":`, `{"a":{"x":"y"}}`, `{"a":[1]}`} {
			_, err := Decode(s)
			assert.Error(t, err, s)
		}
	})
}

func TestNullable(t *testing.T) {
	t.Run("empty map is absent", func(t *testing.T) {
		ns, err := EncodeNullable(Values{})
		require.NoError(t, err)
		assert.False(t, ns.Valid)

		ns, err = EncodeNullable(nil)
		require.NoError(t, err)
		assert.False(t, ns.Valid)
	})

	t.Run("absent decodes to nil", func(t *testing.T) {
		v, err := DecodeNullable(sql.NullString{})
		require.NoError(t, err)
		assert.Nil(t, v)
	})

	t.Run("present round trip", func(t *testing.T) {
		ns, err := EncodeNullable(Values{"k": "v"})
		require.NoError(t, err)
		require.True(t, ns.Valid)

		v, err := DecodeNullable(ns)
		require.NoError(t, err)
		assert.Equal(t, Values{"k": "v"}, v)
	})
}
