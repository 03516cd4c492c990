package query

import (
	"strings"
	"unicode"
)

// CleanSessionID normalizes a session id pasted from chat: newlines are
// dropped, then any mix of surrounding whitespace and inline-code or
// code-fence backticks is trimmed, however many layers deep. The
// function is idempotent, so ids that round-trip through a rendered
// message and back stay stable.
func CleanSessionID(s string) string {
	s = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\r' {
			return -1
		}
		return r
	}, s)
	return strings.TrimFunc(s, func(r rune) bool {
		return r == '`' || unicode.IsSpace(r)
	})
}
