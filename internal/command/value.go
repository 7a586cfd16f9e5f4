package command

import (
	"strconv"
)

// Kind is the type of one declared command parameter.
type Kind int

const (
	// KindBool accepts on/off, true/false, yes/no and 1/0.
	KindBool Kind = iota + 1

	// KindInt accepts a base-10 signed 64-bit integer.
	KindInt

	// KindFloat accepts a finite decimal number.
	KindFloat

	// KindString takes the rest of the line verbatim. It may only be the last
	// parameter of a command.
	KindString
)

// String returns the name used in error messages.
func (k Kind) String() string {
	switch k {
	case KindBool:
		return "on/off"
	case KindInt:
		return "whole number"
	case KindFloat:
		return "number"
	case KindString:
		return "text"
	default:
		return "unknown kind " + strconv.Itoa(int(k))
	}
}

// Placeholder returns the usage placeholder shown in help, such as "<number>".
func (k Kind) Placeholder() string {
	return "<" + k.String() + ">"
}

// Value is one parsed argument. Exactly one of the accessors is meaningful,
// selected by Kind; the others return zero values.
type Value struct {
	kind Kind
	b    bool
	i    int64
	f    float64
	s    string
}

// BoolValue returns a [KindBool] value.
func BoolValue(b bool) Value { return Value{kind: KindBool, b: b} }

// IntValue returns a [KindInt] value.
func IntValue(i int64) Value { return Value{kind: KindInt, i: i} }

// FloatValue returns a [KindFloat] value.
func FloatValue(f float64) Value { return Value{kind: KindFloat, f: f} }

// StringValue returns a [KindString] value.
func StringValue(s string) Value { return Value{kind: KindString, s: s} }

// Kind returns the kind the value was parsed as.
func (v Value) Kind() Kind { return v.kind }

// Bool returns the value of a [KindBool] argument.
func (v Value) Bool() bool { return v.b }

// Int returns the value of a [KindInt] argument.
func (v Value) Int() int64 { return v.i }

// Float returns the value of a [KindFloat] argument. Integers are widened.
func (v Value) Float() float64 {
	if v.kind == KindInt {
		return float64(v.i)
	}
	return v.f
}

// Text returns the value of a [KindString] argument.
func (v Value) Text() string { return v.s }

// String formats the value for logs.
func (v Value) String() string {
	switch v.kind {
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindInt:
		return strconv.FormatInt(v.i, 10)
	case KindFloat:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	case KindString:
		return strconv.Quote(v.s)
	default:
		return "<invalid>"
	}
}
