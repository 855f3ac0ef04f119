package util

import "strings"

var keyReplacer = strings.NewReplacer(
	" ", "-",
	"/", "-",
	":", "-",
	"[", "",
	"]", "",
	"(", "",
	")", "",
)

// SanitizeKey ensures the database key is valid for ArangoDB.
// ArangoDB keys cannot contain spaces, slashes, or brackets.
func SanitizeKey(key string) string {
	return keyReplacer.Replace(strings.TrimSpace(key))
}
