package omt

import (
	"bytes"
	"fmt"
	"strings"

	"golang.org/x/text/encoding/unicode"
)

// wideNameTag introduces a record whose printable name is UTF-16BE text.
var wideNameTag = []byte{0x11, 0x11, 0x11, 0x01}

const maxWideNameUnits = 100

func cstring(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}

func isAlnum(c byte) bool {
	return c >= '0' && c <= '9' || c >= 'A' && c <= 'Z' || c >= 'a' && c <= 'z'
}

// asciiTag renders bytes as text, escaping anything not alphanumeric as xHH.
func asciiTag(b []byte) string {
	var sb strings.Builder
	for _, c := range b {
		if isAlnum(c) {
			sb.WriteByte(c)
		} else {
			fmt.Fprintf(&sb, "x%02X", c)
		}
	}
	return sb.String()
}

// wideName decodes NUL-terminated UTF-16BE text.
func wideName(b []byte) (string, bool) {
	end := 0
	for end+1 < len(b) && end/2 < maxWideNameUnits {
		if b[end] == 0 && b[end+1] == 0 {
			break
		}
		end += 2
	}
	s, err := unicode.UTF16(unicode.BigEndian, unicode.IgnoreBOM).NewDecoder().Bytes(b[:end])
	if err != nil {
		return "", false
	}
	return string(s), true
}

// headerASCII derives a printable name from the start of a record using a
// few empiric rules: the tag (or wide name), then any text fields that
// start with an alphanumeric character.
func headerASCII(raw []byte) string {
	if len(raw) < 4 {
		return asciiTag(raw)
	}
	var sb strings.Builder
	if bytes.Equal(raw[:4], wideNameTag) && len(raw) > 4 && raw[4] == 0 {
		if s, ok := wideName(raw[4:]); ok {
			sb.WriteString(s)
		} else {
			sb.WriteString(asciiTag(raw[:4]))
		}
	} else {
		sb.WriteString(asciiTag(raw[:4]))
	}
	for _, f := range [...]struct{ off, n int }{{4, 8}, {12, 4}, {16, 8}} {
		if len(raw) > f.off && isAlnum(raw[f.off]) {
			sb.WriteByte(' ')
			sb.WriteString(cstring(raw[f.off:min(f.off+f.n, len(raw))]))
		}
	}
	return sb.String()
}

// sanitizeName turns a header name into a file name component: runs of
// spaces collapse, a trailing space is dropped, '/' becomes '-' and the
// remaining spaces become '_'.
func sanitizeName(name string) string {
	name = strings.ReplaceAll(name, "\x00", "")
	var sb strings.Builder
	for i := 0; i < len(name); i++ {
		c := name[i]
		switch {
		case c == ' ' && i+1 < len(name) && name[i+1] == ' ':
			continue
		case c == ' ' && i+1 == len(name):
			continue
		case c == ' ':
			sb.WriteByte('_')
		case c == '/':
			sb.WriteByte('-')
		default:
			sb.WriteByte(c)
		}
	}
	return sb.String()
}
