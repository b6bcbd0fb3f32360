package plugins

import (
	"regexp"
	"strings"
)

// idPattern matches the reverse-DNS plugin identity grammar:
// [a-z0-9][a-z0-9_.-]{2,127}.
var idPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_.-]{2,127}$`)

// ValidateID reports whether id conforms to the reverse-DNS plugin identity
// grammar. The id is immutable across a plugin's versions; (id, version)
// identifies a concrete release.
func ValidateID(id string) error {
	if !idPattern.MatchString(id) {
		return NewPluginErrorWithCode(ErrorCodeManifestInvalid, id, "validate_id", "plugin id must match [a-z0-9][a-z0-9_.-]{2,127}", nil)
	}
	return nil
}

// IDNamespace returns the reversed-DNS namespace prefix of an id, i.e.
// everything up to (but not including) the last dot-separated segment.
// "com.example.imageresizer" -> "com.example".
func IDNamespace(id string) string {
	idx := strings.LastIndex(id, ".")
	if idx < 0 {
		return ""
	}
	return id[:idx]
}
