package tapocli

import "strings"

// Substrings the helper writes to stderr for the failures we can tell apart.
const (
	loginFailedMarker = "Login failed"
	connectMarker     = "tapo2.h"
)

// Classify maps the helper's stderr text to an error kind. Empty text is
// KindNone. The login check wins over the connect check.
func Classify(stderr string) ErrorKind {
	if stderr == "" {
		return KindNone
	}
	if strings.Contains(stderr, loginFailedMarker) {
		return KindAuthenticationFailed
	}
	if strings.Contains(stderr, connectMarker) {
		return KindCannotConnect
	}
	return KindUnknown
}
