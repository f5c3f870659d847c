package security

import (
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifyIdentityRoundTrip(t *testing.T) {
	issuedAt := time.Now()
	sig := SignIdentity("42", "jean@example.org", "DONOR", issuedAt, "secret")

	err := VerifyIdentity("42", "jean@example.org", "DONOR",
		timestamp(issuedAt), sig, "secret", 5*time.Minute)

	require.NoError(t, err)
}

func TestVerifyIdentityRejectsTamperedHeaders(t *testing.T) {
	issuedAt := time.Now()
	sig := SignIdentity("42", "jean@example.org", "DONOR", issuedAt, "secret")

	err := VerifyIdentity("42", "jean@example.org", "ADMIN",
		timestamp(issuedAt), sig, "secret", 5*time.Minute)
	assert.ErrorIs(t, err, ErrBadSignature)

	err = VerifyIdentity("7", "jean@example.org", "DONOR",
		timestamp(issuedAt), sig, "secret", 5*time.Minute)
	assert.ErrorIs(t, err, ErrBadSignature)
}

func TestVerifyIdentityRejectsWrongSecret(t *testing.T) {
	issuedAt := time.Now()
	sig := SignIdentity("42", "jean@example.org", "DONOR", issuedAt, "secret")

	err := VerifyIdentity("42", "jean@example.org", "DONOR",
		timestamp(issuedAt), sig, "other-secret", 5*time.Minute)

	assert.ErrorIs(t, err, ErrBadSignature)
}

func TestVerifyIdentityRejectsExpiredTimestamp(t *testing.T) {
	issuedAt := time.Now().Add(-10 * time.Minute)
	sig := SignIdentity("42", "jean@example.org", "DONOR", issuedAt, "secret")

	err := VerifyIdentity("42", "jean@example.org", "DONOR",
		timestamp(issuedAt), sig, "secret", 5*time.Minute)

	assert.ErrorIs(t, err, ErrSignatureExpired)
}

func TestVerifyIdentityRejectsMalformedTimestamp(t *testing.T) {
	err := VerifyIdentity("42", "jean@example.org", "DONOR",
		"not-a-number", "sig", "secret", 5*time.Minute)

	assert.ErrorIs(t, err, ErrBadSignature)
}

func timestamp(t time.Time) string {
	return strconv.FormatInt(t.Unix(), 10)
}
