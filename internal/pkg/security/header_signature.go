package security

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"strconv"
	"time"
)

// Identity headers arrive from the auth gateway at the edge. When a shared
// secret is configured, the gateway signs them and this service rejects
// requests whose signature does not match, so a caller that reaches the
// service directly cannot forge an identity.

var (
	ErrBadSignature     = errors.New("identity header signature mismatch")
	ErrSignatureExpired = errors.New("identity header signature expired")
)

// SignIdentity computes the signature the auth gateway attaches alongside the
// identity headers. The timestamp is part of the signed material to keep a
// captured header set from being replayable forever.
func SignIdentity(userID, email, role string, issuedAt time.Time, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(userID))
	mac.Write([]byte{0})
	mac.Write([]byte(email))
	mac.Write([]byte{0})
	mac.Write([]byte(role))
	mac.Write([]byte{0})
	mac.Write([]byte(strconv.FormatInt(issuedAt.Unix(), 10)))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

// VerifyIdentity checks the signature over the identity headers. maxAge bounds
// how old the signed timestamp may be.
func VerifyIdentity(userID, email, role, timestamp, signature, secret string, maxAge time.Duration) error {
	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return ErrBadSignature
	}
	issuedAt := time.Unix(ts, 0)
	if time.Since(issuedAt) > maxAge {
		return ErrSignatureExpired
	}

	expected := SignIdentity(userID, email, role, issuedAt, secret)
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return ErrBadSignature
	}
	return nil
}
