package config

import "strings"

// EncodePathList writes paths as a semicolon separated list of quoted
// entries. Quotes inside a path are doubled.
func EncodePathList(paths []string) string {
	parts := make([]string, 0, len(paths))
	for _, p := range paths {
		parts = append(parts, `"`+strings.ReplaceAll(p, `"`, `""`)+`"`)
	}
	return strings.Join(parts, ";")
}

// DecodePathList parses a list written by EncodePathList. Unquoted entries
// are accepted and trimmed; empty entries are dropped.
func DecodePathList(s string) []string {
	var out []string
	var cur strings.Builder
	quoted, inQuotes := false, false

	flush := func() {
		entry := cur.String()
		if !quoted {
			entry = strings.TrimSpace(entry)
		}
		if entry != "" {
			out = append(out, entry)
		}
		cur.Reset()
		quoted = false
	}

	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case inQuotes && c == '"':
			if i+1 < len(s) && s[i+1] == '"' {
				cur.WriteByte('"')
				i++
				continue
			}
			inQuotes = false
		case inQuotes:
			cur.WriteByte(c)
		case c == '"' && strings.TrimSpace(cur.String()) == "":
			cur.Reset()
			inQuotes, quoted = true, true
		case c == ';':
			flush()
		case quoted:
			// Text after a closing quote is ignored.
		default:
			cur.WriteByte(c)
		}
	}
	flush()
	return out
}
