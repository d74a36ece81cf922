package domain

import "strings"

// Bullet prefixes each coordinator action line on display.
const Bullet = "• "

// FormatBullets renders stored action lines as a bulleted block. Lines that
// already carry a bullet are kept as they are.
func FormatBullets(actions string) string {
	var b strings.Builder
	for _, line := range splitLines(actions) {
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		if !strings.HasPrefix(line, strings.TrimSpace(Bullet)) {
			b.WriteString(Bullet)
		}
		b.WriteString(line)
	}
	return b.String()
}

// ParseBullets strips bullets from edited text so only plain lines are stored.
func ParseBullets(text string) string {
	lines := splitLines(text)
	for i, line := range lines {
		lines[i] = strings.TrimSpace(strings.TrimPrefix(line, strings.TrimSpace(Bullet)))
	}
	out := lines[:0]
	for _, l := range lines {
		if l != "" {
			out = append(out, l)
		}
	}
	return strings.Join(out, "\n")
}

// ActionLines returns the non-empty stored action lines.
func ActionLines(actions string) []string {
	return splitLines(ParseBullets(actions))
}

func splitLines(s string) []string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	var out []string
	for _, line := range strings.Split(s, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return out
}
