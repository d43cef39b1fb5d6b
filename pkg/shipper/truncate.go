package shipper

// Truncate shortens s to at most limit runes. A limit of zero or less
// leaves s unchanged.
func Truncate(s string, limit int) string {
	if limit <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit])
}

// TruncateLines keeps at most maxLines lines, each truncated to limit runes.
// Empty lines are dropped.
func TruncateLines(lines []string, maxLines, limit int) []string {
	out := make([]string, 0, len(lines))
	for _, l := range lines {
		if l == "" {
			continue
		}
		if maxLines > 0 && len(out) == maxLines {
			break
		}
		out = append(out, Truncate(l, limit))
	}
	return out
}
