package firestore

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"time"
)

// Kind identifies which tag of a Value is in effect.
type Kind int

const (
	KindInvalid Kind = iota
	KindString
	KindInteger
	KindDouble
	KindBoolean
	KindNull
	KindArray
	KindMap
	KindTimestamp
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "stringValue"
	case KindInteger:
		return "integerValue"
	case KindDouble:
		return "doubleValue"
	case KindBoolean:
		return "booleanValue"
	case KindNull:
		return "nullValue"
	case KindArray:
		return "arrayValue"
	case KindMap:
		return "mapValue"
	case KindTimestamp:
		return "timestampValue"
	default:
		return "invalid"
	}
}

// Value is a Firestore REST typed value. Exactly one tag is normally set;
// when several are, Kind resolves them in a fixed precedence order.
type Value struct {
	StringValue    *string
	IntegerValue   *string
	DoubleValue    *float64
	BooleanValue   *bool
	NullValue      bool
	ArrayValue     *ArrayValue
	MapValue       *MapValue
	TimestampValue *string

	// Extra keeps tags this package does not interpret (geoPointValue,
	// bytesValue, referenceValue) so they survive a read/write cycle.
	Extra map[string]json.RawMessage

	// nulled is the highest-precedence tag that arrived with a JSON null
	// payload, such as {"stringValue": null}. It decodes to nil.
	nulled Kind
}

// ArrayValue is the payload of an arrayValue tag.
type ArrayValue struct {
	Values []Value `json:"values,omitempty"`
}

// MapValue is the payload of a mapValue tag.
type MapValue struct {
	Fields map[string]Value `json:"fields,omitempty"`
}

// Kind returns the effective tag, checking string, integer, double,
// boolean, null, array, map and timestamp in that order. A tag present
// with a null payload takes its place in that order and reads as null.
func (v Value) Kind() Kind {
	k := v.tagKind()
	if v.nulled != KindInvalid && (k == KindInvalid || v.nulled < k) {
		return KindNull
	}
	return k
}

func (v Value) tagKind() Kind {
	switch {
	case v.StringValue != nil:
		return KindString
	case v.IntegerValue != nil:
		return KindInteger
	case v.DoubleValue != nil:
		return KindDouble
	case v.BooleanValue != nil:
		return KindBoolean
	case v.NullValue:
		return KindNull
	case v.ArrayValue != nil:
		return KindArray
	case v.MapValue != nil:
		return KindMap
	case v.TimestampValue != nil:
		return KindTimestamp
	default:
		return KindInvalid
	}
}

// Constructors for each tag.

func StringValue(s string) Value { return Value{StringValue: &s} }

func IntegerValue(i int64) Value {
	s := strconv.FormatInt(i, 10)
	return Value{IntegerValue: &s}
}

func DoubleValue(f float64) Value { return Value{DoubleValue: &f} }

func BooleanValue(b bool) Value { return Value{BooleanValue: &b} }

func NullValue() Value { return Value{NullValue: true} }

func ArrayOf(values ...Value) Value {
	if values == nil {
		values = []Value{}
	}
	return Value{ArrayValue: &ArrayValue{Values: values}}
}

func MapOf(fields map[string]Value) Value {
	if fields == nil {
		fields = map[string]Value{}
	}
	return Value{MapValue: &MapValue{Fields: fields}}
}

func TimestampValue(t time.Time) Value {
	s := t.UTC().Format(time.RFC3339Nano)
	return Value{TimestampValue: &s}
}

// Encode converts a generic structured value, as produced by
// encoding/json, into its tagged representation. Numbers with no
// fractional part become integer tags; other numbers become double tags.
// Values of unsupported types fall back to a string tag of their
// fmt.Sprint form.
func Encode(v any) Value {
	switch x := v.(type) {
	case nil:
		return NullValue()
	case Value:
		return x
	case string:
		return StringValue(x)
	case bool:
		return BooleanValue(x)
	case float64:
		return encodeNumber(x)
	case float32:
		return encodeNumber(float64(x))
	case int:
		return IntegerValue(int64(x))
	case int8:
		return IntegerValue(int64(x))
	case int16:
		return IntegerValue(int64(x))
	case int32:
		return IntegerValue(int64(x))
	case int64:
		return IntegerValue(x)
	case uint8:
		return IntegerValue(int64(x))
	case uint16:
		return IntegerValue(int64(x))
	case uint32:
		return IntegerValue(int64(x))
	case uint:
		return encodeNumber(float64(x))
	case uint64:
		return encodeNumber(float64(x))
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return IntegerValue(i)
		}
		if f, err := x.Float64(); err == nil {
			return encodeNumber(f)
		}
		return StringValue(x.String())
	case time.Time:
		return TimestampValue(x)
	case *time.Time:
		if x == nil {
			return NullValue()
		}
		return TimestampValue(*x)
	case []any:
		out := make([]Value, 0, len(x))
		for _, item := range x {
			out = append(out, Encode(item))
		}
		return ArrayOf(out...)
	case map[string]any:
		return MapOf(EncodeFields(x))
	}
	return encodeReflect(v)
}

func encodeNumber(f float64) Value {
	if math.IsInf(f, 0) || f != math.Trunc(f) {
		return DoubleValue(f)
	}
	if f == 0 {
		s := "0"
		return Value{IntegerValue: &s}
	}
	s := strconv.FormatFloat(f, 'f', -1, 64)
	return Value{IntegerValue: &s}
}

// encodeReflect handles typed slices and string-keyed maps, for example
// []string or map[string]string, that the type switch does not list.
func encodeReflect(v any) Value {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return NullValue()
		}
		return Encode(rv.Elem().Interface())
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.IsNil() {
			return NullValue()
		}
		out := make([]Value, 0, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			out = append(out, Encode(rv.Index(i).Interface()))
		}
		return ArrayOf(out...)
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			break
		}
		if rv.IsNil() {
			return NullValue()
		}
		fields := make(map[string]Value, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			fields[iter.Key().String()] = Encode(iter.Value().Interface())
		}
		return MapOf(fields)
	case reflect.String:
		return StringValue(rv.String())
	case reflect.Bool:
		return BooleanValue(rv.Bool())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return IntegerValue(rv.Int())
	case reflect.Float32, reflect.Float64:
		return encodeNumber(rv.Float())
	}
	return StringValue(fmt.Sprint(v))
}

// EncodeFields encodes every entry of a document field map.
func EncodeFields(fields map[string]any) map[string]Value {
	out := make(map[string]Value, len(fields))
	for k, v := range fields {
		out[k] = Encode(v)
	}
	return out
}

// Decode is the inverse of Encode. Integer tags decode to int64 (float64
// when the value does not fit), double tags to float64 and timestamp tags
// to time.Time. A value with no recognised tag is returned unchanged.
func Decode(v Value) any {
	switch v.Kind() {
	case KindString:
		return *v.StringValue
	case KindInteger:
		return decodeInteger(*v.IntegerValue)
	case KindDouble:
		return *v.DoubleValue
	case KindBoolean:
		return *v.BooleanValue
	case KindNull:
		return nil
	case KindArray:
		out := make([]any, 0, len(v.ArrayValue.Values))
		for _, item := range v.ArrayValue.Values {
			out = append(out, Decode(item))
		}
		return out
	case KindMap:
		return DecodeFields(v.MapValue.Fields)
	case KindTimestamp:
		t, err := time.Parse(time.RFC3339Nano, *v.TimestampValue)
		if err != nil {
			return *v.TimestampValue
		}
		return t
	default:
		return v
	}
}

func decodeInteger(s string) any {
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return math.Trunc(f)
	}
	return s
}

// DecodeFields decodes every entry of a document field map.
func DecodeFields(fields map[string]Value) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		out[k] = Decode(v)
	}
	return out
}

type wireNull struct{}

func (wireNull) MarshalJSON() ([]byte, error) { return []byte("null"), nil }

type wireDouble float64

func (d wireDouble) MarshalJSON() ([]byte, error) {
	f := float64(d)
	switch {
	case math.IsNaN(f):
		return []byte(`"NaN"`), nil
	case math.IsInf(f, 1):
		return []byte(`"Infinity"`), nil
	case math.IsInf(f, -1):
		return []byte(`"-Infinity"`), nil
	}
	return json.Marshal(f)
}

type wireValue struct {
	StringValue    *string     `json:"stringValue,omitempty"`
	IntegerValue   *string     `json:"integerValue,omitempty"`
	DoubleValue    *wireDouble `json:"doubleValue,omitempty"`
	BooleanValue   *bool       `json:"booleanValue,omitempty"`
	NullValue      *wireNull   `json:"nullValue,omitempty"`
	ArrayValue     *ArrayValue `json:"arrayValue,omitempty"`
	MapValue       *MapValue   `json:"mapValue,omitempty"`
	TimestampValue *string     `json:"timestampValue,omitempty"`
}

// MarshalJSON writes every tag that is set, plus any preserved extras.
func (v Value) MarshalJSON() ([]byte, error) {
	w := wireValue{
		StringValue:    v.StringValue,
		IntegerValue:   v.IntegerValue,
		BooleanValue:   v.BooleanValue,
		ArrayValue:     v.ArrayValue,
		MapValue:       v.MapValue,
		TimestampValue: v.TimestampValue,
	}
	if v.DoubleValue != nil {
		d := wireDouble(*v.DoubleValue)
		w.DoubleValue = &d
	}
	if v.NullValue {
		w.NullValue = &wireNull{}
	}
	if len(v.Extra) == 0 && v.nulled == KindInvalid {
		return json.Marshal(w)
	}

	known, err := json.Marshal(w)
	if err != nil {
		return nil, err
	}
	merged := make(map[string]json.RawMessage, len(v.Extra)+2)
	for k, raw := range v.Extra {
		merged[k] = raw
	}
	if v.nulled != KindInvalid {
		merged[v.nulled.String()] = json.RawMessage("null")
	}
	if err := json.Unmarshal(known, &merged); err != nil {
		return nil, err
	}
	return json.Marshal(merged)
}

// UnmarshalJSON reads a tagged value. A tag counts as present when its
// key appears, so {"nullValue": null} is a null tag and
// {"stringValue": null} is a string tag holding null.
func (v *Value) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*v = Value{}
	for key, msg := range raw {
		if err := v.setTag(key, msg); err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
	}
	return nil
}

func (v *Value) setTag(key string, msg json.RawMessage) error {
	isNull := string(msg) == "null"
	switch key {
	case "nullValue":
		v.NullValue = true
	case "stringValue":
		if isNull {
			v.markNull(KindString)
			return nil
		}
		var s string
		if err := json.Unmarshal(msg, &s); err != nil {
			return err
		}
		v.StringValue = &s
	case "integerValue":
		if isNull {
			v.markNull(KindInteger)
			return nil
		}
		var n json.Number
		if err := json.Unmarshal(msg, &n); err != nil {
			return err
		}
		s := n.String()
		v.IntegerValue = &s
	case "doubleValue":
		if isNull {
			v.markNull(KindDouble)
			return nil
		}
		f, err := unmarshalDouble(msg)
		if err != nil {
			return err
		}
		v.DoubleValue = &f
	case "booleanValue":
		if isNull {
			v.markNull(KindBoolean)
			return nil
		}
		var b bool
		if err := json.Unmarshal(msg, &b); err != nil {
			return err
		}
		v.BooleanValue = &b
	case "arrayValue":
		if isNull {
			v.markNull(KindArray)
			return nil
		}
		var a ArrayValue
		if err := json.Unmarshal(msg, &a); err != nil {
			return err
		}
		v.ArrayValue = &a
	case "mapValue":
		if isNull {
			v.markNull(KindMap)
			return nil
		}
		var m MapValue
		if err := json.Unmarshal(msg, &m); err != nil {
			return err
		}
		v.MapValue = &m
	case "timestampValue":
		if isNull {
			v.markNull(KindTimestamp)
			return nil
		}
		var s string
		if err := json.Unmarshal(msg, &s); err != nil {
			return err
		}
		v.TimestampValue = &s
	default:
		if v.Extra == nil {
			v.Extra = make(map[string]json.RawMessage)
		}
		v.Extra[key] = msg
	}
	return nil
}

func (v *Value) markNull(k Kind) {
	if v.nulled == KindInvalid || k < v.nulled {
		v.nulled = k
	}
}

// unmarshalDouble accepts a JSON number or one of the strings Firestore
// uses for non-finite doubles.
func unmarshalDouble(msg json.RawMessage) (float64, error) {
	var f float64
	if err := json.Unmarshal(msg, &f); err == nil {
		return f, nil
	}
	var s string
	if err := json.Unmarshal(msg, &s); err != nil {
		return 0, err
	}
	return strconv.ParseFloat(s, 64)
}
