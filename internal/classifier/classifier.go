// Package classifier turns a request path into the stable "command" string
// the rest of the rule engine keys off, and sanitizes commands into
// storage-safe keys.
package classifier

import (
	"strconv"
	"strings"
)

// NoCommand is returned when a path carries no classifiable command — an
// empty path or the favicon request — signalling the caller should bypass
// the rule engine entirely.
const NoCommand = ""

// Classify strips the leading slash, drops any path segment that parses as
// a base-10 integer, and rejoins the remainder with "/". Paths that reduce
// to nothing, or to "favicon.ico", classify as NoCommand.
func Classify(path string) string {
	trimmed := strings.TrimPrefix(path, "/")
	if trimmed == "" {
		return NoCommand
	}
	segments := strings.Split(trimmed, "/")
	kept := make([]string, 0, len(segments))
	for _, seg := range segments {
		if seg == "" {
			continue
		}
		if _, err := strconv.ParseInt(seg, 10, 64); err == nil {
			continue
		}
		kept = append(kept, seg)
	}
	command := strings.Join(kept, "/")
	if command == "" || command == "favicon.ico" {
		return NoCommand
	}
	return command
}

// Key converts a command into its storage-safe form: every character other
// than an ASCII letter or digit becomes one underscore. Idempotent —
// Key(Key(c)) == Key(c).
func Key(command string) string {
	var b strings.Builder
	b.Grow(len(command))
	for _, r := range command {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}
