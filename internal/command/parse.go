package command

import (
	"errors"
	"math"
	"strconv"
	"strings"
	"unicode"
)

// token is a whitespace-delimited word and its byte span in the input.
type token struct {
	text       string
	start, end int
}

func tokenize(s string) []token {
	var toks []token
	start := -1
	for i, r := range s {
		if unicode.IsSpace(r) {
			if start >= 0 {
				toks = append(toks, token{s[start:i], start, i})
				start = -1
			}
			continue
		}
		if start < 0 {
			start = i
		}
	}
	if start >= 0 {
		toks = append(toks, token{s[start:], start, len(s)})
	}
	return toks
}

// Parse converts rest into one value per kind.
//
// Tokens are separated by runs of whitespace. A trailing [KindString]
// consumes everything from its first token to the end of rest, keeping
// internal whitespace and dropping only trailing whitespace; it must not be
// empty. Tokens left over after the last kind are an error.
//
// Any failure is a *[BadArgumentsError] and no values are returned.
func Parse(rest string, kinds []Kind) ([]Value, error) {
	toks := tokenize(rest)
	vals := make([]Value, 0, len(kinds))

	for i, k := range kinds {
		pos := i + 1
		if i >= len(toks) {
			return nil, &BadArgumentsError{Position: pos, Kind: k, Reason: "missing " + k.String()}
		}
		if k == KindString {
			text := strings.TrimRightFunc(rest[toks[i].start:], unicode.IsSpace)
			return append(vals, StringValue(text)), nil
		}
		v, reason := parseToken(toks[i].text, k)
		if reason != "" {
			return nil, &BadArgumentsError{Position: pos, Token: toks[i].text, Kind: k, Reason: reason}
		}
		vals = append(vals, v)
	}

	if len(toks) > len(kinds) {
		extra := toks[len(kinds)]
		return nil, &BadArgumentsError{Position: len(kinds) + 1, Token: extra.text, Reason: "unexpected argument"}
	}
	return vals, nil
}

// parseToken converts one token. A non-empty reason reports failure.
func parseToken(tok string, k Kind) (Value, string) {
	switch k {
	case KindBool:
		switch strings.ToLower(tok) {
		case "on", "true", "yes", "1":
			return BoolValue(true), ""
		case "off", "false", "no", "0":
			return BoolValue(false), ""
		}
		return Value{}, "expected on/off"

	case KindInt:
		i, err := strconv.ParseInt(tok, 10, 64)
		if err != nil {
			if errors.Is(err, strconv.ErrRange) {
				return Value{}, "whole number out of range"
			}
			return Value{}, "expected a whole number"
		}
		return IntValue(i), ""

	case KindFloat:
		if strings.ContainsAny(tok, "xX_") {
			return Value{}, "expected a number"
		}
		f, err := strconv.ParseFloat(tok, 64)
		if err != nil {
			if errors.Is(err, strconv.ErrRange) {
				return Value{}, "number out of range"
			}
			return Value{}, "expected a number"
		}
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return Value{}, "expected a finite number"
		}
		return FloatValue(f), ""
	}
	return Value{}, "unsupported parameter kind"
}
