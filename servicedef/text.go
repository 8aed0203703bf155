package servicedef

import (
	"strconv"
	"strings"
	"unicode/utf8"
)

// Text is free-form text carried in an envelope. XML cannot represent control characters, NUL, or
// invalid UTF-8, so those bytes are written as \xNN escapes (and a backslash as \\) and restored on
// decoding. Anything else is written as is.
type Text string

func (t Text) MarshalText() ([]byte, error) {
	return []byte(escapeText(string(t))), nil
}

func (t *Text) UnmarshalText(data []byte) error {
	s, err := unescapeText(string(data))
	if err != nil {
		return err
	}
	*t = Text(s)
	return nil
}

func escapeText(s string) string {
	if !needsEscape(s) {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		switch {
		case r == '\\':
			b.WriteString(`\\`)
		case (r == utf8.RuneError && size == 1) || !isXMLChar(r):
			for _, c := range []byte(s[i : i+size]) {
				b.WriteString(`\x`)
				b.WriteString(hex2(c))
			}
		default:
			b.WriteString(s[i : i+size])
		}
		i += size
	}
	return b.String()
}

func needsEscape(s string) bool {
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		if r == '\\' || (r == utf8.RuneError && size == 1) || !isXMLChar(r) {
			return true
		}
		i += size
	}
	return false
}

func unescapeText(s string) (string, error) {
	if !strings.Contains(s, `\`) {
		return s, nil
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] != '\\' {
			b.WriteByte(s[i])
			continue
		}
		switch {
		case i+1 < len(s) && s[i+1] == '\\':
			b.WriteByte('\\')
			i++
		case i+3 < len(s) && s[i+1] == 'x':
			c, err := strconv.ParseUint(s[i+2:i+4], 16, 8)
			if err != nil {
				return "", &strconv.NumError{Func: "unescapeText", Num: s[i : i+4], Err: strconv.ErrSyntax}
			}
			b.WriteByte(byte(c))
			i += 3
		default:
			return "", &strconv.NumError{Func: "unescapeText", Num: s[i:], Err: strconv.ErrSyntax}
		}
	}
	return b.String(), nil
}

// isXMLChar reports whether r is in the XML 1.0 Char production.
func isXMLChar(r rune) bool {
	return r == 0x09 || r == 0x0A || r == 0x0D ||
		r >= 0x20 && r <= 0xD7FF ||
		r >= 0xE000 && r <= 0xFFFD ||
		r >= 0x10000 && r <= 0x10FFFF
}

func hex2(c byte) string {
	const digits = "0123456789abcdef"
	return string([]byte{digits[c>>4], digits[c&0x0f]})
}

func toTexts(ss []string) []Text {
	if ss == nil {
		return nil
	}
	ret := make([]Text, 0, len(ss))
	for _, s := range ss {
		ret = append(ret, Text(s))
	}
	return ret
}

func fromTexts(ts []Text) []string {
	if ts == nil {
		return nil
	}
	ret := make([]string, 0, len(ts))
	for _, t := range ts {
		ret = append(ret, string(t))
	}
	return ret
}
