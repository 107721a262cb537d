package account

import "strings"

// ParseRecipients splits user input into recipient handles.
//
// Separators are commas, whitespace and newlines. A leading "@" is removed,
// empty entries and case-insensitive duplicates are dropped, and the input
// order is kept.
func ParseRecipients(raw string) []string {
	fields := strings.FieldsFunc(raw, func(r rune) bool {
		return r == ',' || r == ';' || r == ' ' || r == '\n' || r == '\t' || r == '\r'
	})
	out := make([]string, 0, len(fields))
	seen := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		h := NormalizeHandle(f)
		if h == "" {
			continue
		}
		key := strings.ToLower(h)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, h)
	}
	return out
}

// NormalizeHandle trims spaces and leading "@" characters.
func NormalizeHandle(h string) string {
	return strings.TrimLeft(strings.TrimSpace(h), "@")
}
