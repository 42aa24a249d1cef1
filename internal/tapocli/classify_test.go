package tapocli

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name   string
		stderr string
		want   ErrorKind
	}{
		{"empty", "", KindNone},
		{"login failed", "Login failed: bad creds", KindAuthenticationFailed},
		{"login failed mid-line", "error: Login failed for user\n", KindAuthenticationFailed},
		{"connect failure", "tapo2.h:120: handshake error", KindCannotConnect},
		{"login beats connect", "tapo2.h:88 Login failed", KindAuthenticationFailed},
		{"unrelated text", "segmentation fault", KindUnknown},
		{"whitespace only", " \n", KindUnknown},
		{"case sensitive", "login failed", KindUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.stderr))
		})
	}
}

func TestErrorKind_String(t *testing.T) {
	assert.Equal(t, "invalid_address", KindInvalidAddress.String())
	assert.Equal(t, "authentication_failed", KindAuthenticationFailed.String())
	assert.Equal(t, "cannot_connect", KindCannotConnect.String())
	assert.Equal(t, "invalid_response", KindInvalidResponse.String())
	assert.Equal(t, "unknown", KindUnknown.String())
	assert.Equal(t, "none", KindNone.String())
}

func TestError_MatchesExactlyOneSentinel(t *testing.T) {
	sentinels := map[ErrorKind]error{
		KindInvalidAddress:       ErrInvalidAddress,
		KindAuthenticationFailed: ErrAuthenticationFailed,
		KindCannotConnect:        ErrCannotConnect,
		KindInvalidResponse:      ErrInvalidResponse,
		KindUnknown:              ErrUnknown,
	}

	for kind := range sentinels {
		err := &Error{Kind: kind, Command: CommandInfo}
		for other, sentinel := range sentinels {
			assert.Equal(t, kind == other, errors.Is(err, sentinel),
				"kind %s vs sentinel for %s", kind, other)
		}
		assert.Equal(t, kind, KindOf(err))
	}
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindNone, KindOf(nil))
	assert.Equal(t, KindUnknown, KindOf(errors.New("boom")))

	cause := errors.New("exec: not found")
	err := &Error{Kind: KindUnknown, Command: CommandOn, Err: cause}
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "tapo2 on")
	assert.Contains(t, err.Error(), "exec: not found")
}
