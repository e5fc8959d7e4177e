package model

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/apd"
	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"
)

// DataKind is the broad category of values held by an attribute.
type DataKind int

const (
	KindUnknown DataKind = iota
	KindString
	KindInteger
	KindFloat
	KindDecimal
	KindBoolean
	KindDatetime
	KindBinary
	KindDocument
)

// String returns the name of the DataKind.
func (k DataKind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindInteger:
		return "integer"
	case KindFloat:
		return "float"
	case KindDecimal:
		return "decimal"
	case KindBoolean:
		return "boolean"
	case KindDatetime:
		return "datetime"
	case KindBinary:
		return "binary"
	case KindDocument:
		return "document"
	default:
		return "unknown"
	}
}

// KindForTypeName maps a database type name to a DataKind. Rules are applied
// in order, and follow SQLite's type affinity rules where they overlap:
//
//	"INT"                                 => KindInteger
//	"CHAR", "CLOB", "TEXT"                => KindString
//	"BLOB", "BYTEA"                       => KindBinary
//	"REAL", "FLOA", "DOUB"                => KindFloat
//	"NUMERIC", "DECIMAL"                  => KindDecimal
//	"BOOL"                                => KindBoolean
//	"DATE", "TIME"                        => KindDatetime
//	"JSON"                                => KindDocument
func KindForTypeName(typeName string) DataKind {
	var t = strings.ToUpper(typeName)

	switch {
	case t == "":
		return KindUnknown
	case strings.Contains(t, "INTERVAL"):
		return KindString
	case strings.Contains(t, "POINT"):
		return KindString
	case strings.Contains(t, "INT"):
		return KindInteger
	case strings.Contains(t, "CHAR"), strings.Contains(t, "CLOB"), strings.Contains(t, "TEXT"),
		t == "UUID", t == "NAME", t == "TID":
		return KindString
	case strings.Contains(t, "BLOB"), strings.Contains(t, "BYTEA"), strings.Contains(t, "BINARY"):
		return KindBinary
	case strings.Contains(t, "REAL"), strings.Contains(t, "FLOA"), strings.Contains(t, "DOUB"):
		return KindFloat
	case strings.Contains(t, "NUMERIC"), strings.Contains(t, "DECIMAL"):
		return KindDecimal
	case strings.Contains(t, "BOOL"):
		return KindBoolean
	case strings.Contains(t, "DATE"), strings.Contains(t, "TIME"):
		return KindDatetime
	case strings.Contains(t, "JSON"):
		return KindDocument
	default:
		return KindUnknown
	}
}

// undefined is the type of Undefined.
type undefined struct{}

func (undefined) String() string { return "<undefined>" }

// Undefined is the value of a cell which could not be decoded.
var Undefined interface{} = undefined{}

// IsUndefined returns true if |v| is the Undefined cell value.
func IsUndefined(v interface{}) bool {
	var _, ok = v.(undefined)
	return ok
}

// Codec converts raw driver values of an attribute into their in-memory
// representation, and back into display text.
type Codec interface {
	// Kind of values produced by the Codec.
	Kind() DataKind
	// Decode a raw driver value. A nil |raw| always decodes to nil.
	Decode(raw interface{}) (interface{}, error)
	// ZeroValue is the representative non-null value of the Codec's kind,
	// used to initialize NOT NULL cells of newly added rows.
	ZeroValue() interface{}
	// Format a decoded value for display or scripting.
	Format(v interface{}) string
	// Equal returns true if decoded values |a| and |b| are equal.
	Equal(a, b interface{}) bool
}

// CodecFor returns the Codec of the DataKind.
func CodecFor(kind DataKind) Codec {
	switch kind {
	case KindString:
		return stringCodec{}
	case KindInteger:
		return integerCodec{}
	case KindFloat:
		return floatCodec{}
	case KindDecimal:
		return decimalCodec{}
	case KindBoolean:
		return booleanCodec{}
	case KindDatetime:
		return datetimeCodec{}
	case KindBinary:
		return binaryCodec{}
	case KindDocument:
		return documentCodec{}
	default:
		return unknownCodec{}
	}
}

// equalValues is shared by all Codecs. time.Time values compare through
// their Equal method, and byte slices by content.
func equalValues(a, b interface{}) bool {
	if IsUndefined(a) || IsUndefined(b) {
		return IsUndefined(a) && IsUndefined(b)
	}
	return cmp.Equal(a, b)
}

// compareValues orders decoded values of a common kind. NULL and Undefined
// values order before all others, and values of differing types order on
// their formatted text.
func compareValues(a, b interface{}) int {
	var an, bn = a == nil || IsUndefined(a), b == nil || IsUndefined(b)
	switch {
	case an && bn:
		return 0
	case an:
		return -1
	case bn:
		return 1
	}

	switch av := a.(type) {
	case int64:
		if bv, ok := b.(int64); ok {
			return compareOrdered(av, bv)
		}
	case float64:
		if bv, ok := b.(float64); ok {
			return compareOrdered(av, bv)
		}
	case string:
		if bv, ok := b.(string); ok {
			return strings.Compare(av, bv)
		}
	case bool:
		if bv, ok := b.(bool); ok && av != bv {
			if av {
				return 1
			}
			return -1
		}
	case time.Time:
		if bv, ok := b.(time.Time); ok {
			return av.Compare(bv)
		}
	}
	return strings.Compare(formatValue(a), formatValue(b))
}

// compareCells orders decoded values of an attribute of |kind|.
func compareCells(kind DataKind, a, b interface{}) int {
	if kind != KindDecimal {
		return compareValues(a, b)
	}
	var ad, _, aErr = apd.NewFromString(formatValue(a))
	var bd, _, bErr = apd.NewFromString(formatValue(b))
	if aErr != nil || bErr != nil {
		return compareValues(a, b)
	}
	return ad.Cmp(bd)
}

func compareOrdered[T int64 | float64](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func formatValue(v interface{}) string {
	switch vv := v.(type) {
	case nil:
		return "NULL"
	case string:
		return vv
	case []byte:
		return base64.StdEncoding.EncodeToString(vv)
	case time.Time:
		return vv.Format(time.RFC3339Nano)
	case float64:
		return strconv.FormatFloat(vv, 'f', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}

type unknownCodec struct{}

func (unknownCodec) Kind() DataKind { return KindUnknown }

func (unknownCodec) Decode(raw interface{}) (interface{}, error) {
	if b, ok := raw.([]byte); ok {
		return append([]byte(nil), b...), nil
	}
	return raw, nil
}

func (unknownCodec) ZeroValue() interface{}      { return nil }
func (unknownCodec) Format(v interface{}) string { return formatValue(v) }
func (unknownCodec) Equal(a, b interface{}) bool { return equalValues(a, b) }

type stringCodec struct{}

func (stringCodec) Kind() DataKind { return KindString }

func (stringCodec) Decode(raw interface{}) (interface{}, error) {
	switch v := raw.(type) {
	case nil:
		return nil, nil
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	case time.Time:
		return v.Format(time.RFC3339Nano), nil
	case int64, int32, int, float64, float32, bool:
		return fmt.Sprint(v), nil
	default:
		return nil, errors.Errorf("cannot decode %T as string", raw)
	}
}

func (stringCodec) ZeroValue() interface{}      { return "" }
func (stringCodec) Format(v interface{}) string { return formatValue(v) }
func (stringCodec) Equal(a, b interface{}) bool { return equalValues(a, b) }

type integerCodec struct{}

func (integerCodec) Kind() DataKind { return KindInteger }

func (integerCodec) Decode(raw interface{}) (interface{}, error) {
	switch v := raw.(type) {
	case nil:
		return nil, nil
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case uint32:
		return int64(v), nil
	case float64:
		if v != math.Trunc(v) {
			return nil, errors.Errorf("float %v has a fractional part", v)
		}
		return int64(v), nil
	case bool:
		if v {
			return int64(1), nil
		}
		return int64(0), nil
	case string:
		return parseInteger(v)
	case []byte:
		return parseInteger(string(v))
	default:
		return nil, errors.Errorf("cannot decode %T as integer", raw)
	}
}

func parseInteger(s string) (interface{}, error) {
	var n, err = strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return nil, errors.WithMessagef(err, "parsing integer %q", s)
	}
	return n, nil
}

func (integerCodec) ZeroValue() interface{}      { return int64(0) }
func (integerCodec) Format(v interface{}) string { return formatValue(v) }
func (integerCodec) Equal(a, b interface{}) bool { return equalValues(a, b) }

type floatCodec struct{}

func (floatCodec) Kind() DataKind { return KindFloat }

func (floatCodec) Decode(raw interface{}) (interface{}, error) {
	switch v := raw.(type) {
	case nil:
		return nil, nil
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case int:
		return float64(v), nil
	case string:
		return parseFloat(v)
	case []byte:
		return parseFloat(string(v))
	default:
		return nil, errors.Errorf("cannot decode %T as float", raw)
	}
}

func parseFloat(s string) (interface{}, error) {
	var f, err = strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return nil, errors.WithMessagef(err, "parsing float %q", s)
	}
	return f, nil
}

func (floatCodec) ZeroValue() interface{}      { return float64(0) }
func (floatCodec) Format(v interface{}) string { return formatValue(v) }
func (floatCodec) Equal(a, b interface{}) bool { return equalValues(a, b) }

// decimalCodec holds exact numeric values. Integral values decode to int64,
// and all others keep the decimal text of the driver so that no precision
// is lost when the value is bound back into a statement.
type decimalCodec struct{}

func (decimalCodec) Kind() DataKind { return KindDecimal }

func (decimalCodec) Decode(raw interface{}) (interface{}, error) {
	switch v := raw.(type) {
	case nil:
		return nil, nil
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case float64:
		// Integral floats are exact below 2^53.
		if v == math.Trunc(v) && math.Abs(v) <= 1<<53 {
			return int64(v), nil
		}
		return v, nil
	case string:
		return parseDecimal(v)
	case []byte:
		return parseDecimal(string(v))
	default:
		return nil, errors.Errorf("cannot decode %T as decimal", raw)
	}
}

func parseDecimal(s string) (interface{}, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, nil
	}
	if d, _, err := apd.NewFromString(s); err != nil || d.Form != apd.Finite {
		return nil, errors.Errorf("parsing decimal %q", s)
	}
	return s, nil
}

func (decimalCodec) ZeroValue() interface{}      { return int64(0) }
func (decimalCodec) Format(v interface{}) string { return formatValue(v) }
func (decimalCodec) Equal(a, b interface{}) bool { return equalValues(a, b) }

type booleanCodec struct{}

func (booleanCodec) Kind() DataKind { return KindBoolean }

func (booleanCodec) Decode(raw interface{}) (interface{}, error) {
	switch v := raw.(type) {
	case nil:
		return nil, nil
	case bool:
		return v, nil
	case int64:
		return v != 0, nil
	case string:
		return parseBool(v)
	case []byte:
		return parseBool(string(v))
	default:
		return nil, errors.Errorf("cannot decode %T as boolean", raw)
	}
}

func parseBool(s string) (interface{}, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "t", "true", "1", "y", "yes", "on":
		return true, nil
	case "f", "false", "0", "n", "no", "off":
		return false, nil
	}
	return nil, errors.Errorf("parsing boolean %q", s)
}

func (booleanCodec) ZeroValue() interface{}      { return false }
func (booleanCodec) Format(v interface{}) string { return formatValue(v) }
func (booleanCodec) Equal(a, b interface{}) bool { return equalValues(a, b) }

// Layouts accepted when decoding datetimes from text.
var datetimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04",
	"2006-01-02",
}

type datetimeCodec struct{}

func (datetimeCodec) Kind() DataKind { return KindDatetime }

func (datetimeCodec) Decode(raw interface{}) (interface{}, error) {
	switch v := raw.(type) {
	case nil:
		return nil, nil
	case time.Time:
		return v, nil
	case int64:
		return time.Unix(v, 0).UTC(), nil
	case string:
		return parseDatetime(v)
	case []byte:
		return parseDatetime(string(v))
	default:
		return nil, errors.Errorf("cannot decode %T as datetime", raw)
	}
}

func parseDatetime(s string) (interface{}, error) {
	s = strings.TrimSpace(s)
	for _, layout := range datetimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return nil, errors.Errorf("parsing datetime %q", s)
}

func (datetimeCodec) ZeroValue() interface{}      { return time.Time{} }
func (datetimeCodec) Format(v interface{}) string { return formatValue(v) }
func (datetimeCodec) Equal(a, b interface{}) bool { return equalValues(a, b) }

type binaryCodec struct{}

func (binaryCodec) Kind() DataKind { return KindBinary }

func (binaryCodec) Decode(raw interface{}) (interface{}, error) {
	switch v := raw.(type) {
	case nil:
		return nil, nil
	case []byte:
		return append([]byte(nil), v...), nil
	case string:
		return []byte(v), nil
	default:
		return nil, errors.Errorf("cannot decode %T as binary", raw)
	}
}

func (binaryCodec) ZeroValue() interface{}      { return []byte{} }
func (binaryCodec) Format(v interface{}) string { return formatValue(v) }
func (binaryCodec) Equal(a, b interface{}) bool { return equalValues(a, b) }

// documentCodec decodes JSON text into generic Go values
// (map[string]interface{}, []interface{}, float64, string, bool).
type documentCodec struct{}

func (documentCodec) Kind() DataKind { return KindDocument }

func (documentCodec) Decode(raw interface{}) (interface{}, error) {
	var b []byte

	switch v := raw.(type) {
	case nil:
		return nil, nil
	case string:
		b = []byte(v)
	case []byte:
		b = v
	case map[string]interface{}, []interface{}:
		return v, nil
	default:
		return nil, errors.Errorf("cannot decode %T as document", raw)
	}

	var out interface{}
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, errors.WithMessage(err, "decoding document")
	}
	return out, nil
}

func (documentCodec) ZeroValue() interface{} { return map[string]interface{}{} }

func (documentCodec) Format(v interface{}) string {
	if v == nil {
		return "NULL"
	}
	if b, err := json.Marshal(v); err == nil {
		return string(b)
	}
	return fmt.Sprint(v)
}

func (documentCodec) Equal(a, b interface{}) bool { return equalValues(a, b) }
