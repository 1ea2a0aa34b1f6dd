package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/pbkdf2"
)

const (
	capabilityKeySaltLabel  = "coursestream-capability"
	capabilityKeyIterations = 4096
	capabilityKeyLength     = 32
)

// ErrNoSecret is returned when token signing is attempted without a
// configured signing secret. Callers must treat this as fatal for token
// issuance rather than falling back to unsigned URLs.
var ErrNoSecret = errors.New("capability signing secret is not configured")

// Codec signs and verifies short-lived capability tokens that bind a
// normalized media path to an absolute expiry instant. The wire form is
// "<expiry>.<signatureHex>"; the path travels separately so one token can be
// reused across the sibling resources of an HLS folder.
type Codec struct {
	key []byte
	now func() time.Time
}

// CodecOption customises Codec construction.
type CodecOption func(*Codec)

// WithClock overrides the wall clock used for expiry checks. Intended for tests.
func WithClock(now func() time.Time) CodecOption {
	return func(c *Codec) {
		if now != nil {
			c.now = now
		}
	}
}

// NewCodec derives a signing key from the provided secret. An empty secret
// yields ErrNoSecret so misconfiguration surfaces at startup instead of at
// the first playback request.
func NewCodec(secret string, opts ...CodecOption) (*Codec, error) {
	trimmed := strings.TrimSpace(secret)
	if trimmed == "" {
		return nil, ErrNoSecret
	}
	codec := &Codec{
		key: pbkdf2.Key([]byte(trimmed), []byte(capabilityKeySaltLabel), capabilityKeyIterations, capabilityKeyLength, sha256.New),
		now: time.Now,
	}
	for _, opt := range opts {
		opt(codec)
	}
	return codec, nil
}

// Sign issues a token for the normalized form of path, valid for ttl.
func (c *Codec) Sign(path string, ttl time.Duration) (string, error) {
	if c == nil || len(c.key) == 0 {
		return "", ErrNoSecret
	}
	expiry := c.now().Add(ttl).Unix()
	signature := c.signaturize(NormalizePath(path), expiry)
	return fmt.Sprintf("%d.%s", expiry, signature), nil
}

// Verify reports whether token authorizes the presented path. A token matches
// when its MAC was computed for the normalized presented path, or for the
// conventional master playlist of the presented path's folder
// ("<dir>/<dir>.m3u8"), so a token issued for a master playlist also covers
// the variant playlists and segments that live alongside it.
func (c *Codec) Verify(path, token string) bool {
	if c == nil || len(c.key) == 0 {
		return false
	}
	expiryPart, signature, ok := strings.Cut(token, ".")
	if !ok || signature == "" {
		return false
	}
	expiry, err := strconv.ParseInt(expiryPart, 10, 64)
	if err != nil || expiry <= 0 {
		return false
	}
	if c.now().Unix() > expiry {
		return false
	}
	normalized := NormalizePath(path)
	if macEqual(signature, c.signaturize(normalized, expiry)) {
		return true
	}
	parts := strings.Split(normalized, "/")
	if len(parts) < 2 || parts[0] == "" {
		return false
	}
	master := parts[0] + "/" + parts[0] + ".m3u8"
	return macEqual(signature, c.signaturize(master, expiry))
}

func (c *Codec) signaturize(normalizedPath string, expiry int64) string {
	mac := hmac.New(sha256.New, c.key)
	mac.Write([]byte(normalizedPath))
	mac.Write([]byte(":"))
	mac.Write([]byte(strconv.FormatInt(expiry, 10)))
	return hex.EncodeToString(mac.Sum(nil))
}

// macEqual compares hex signatures in constant time.
func macEqual(presented, expected string) bool {
	return hmac.Equal([]byte(presented), []byte(expected))
}

// NormalizePath canonicalizes a client-supplied media path: backslashes
// become slashes, any scheme-shaped prefix is dropped, and leading slashes
// are trimmed so the result is always asset-relative.
func NormalizePath(path string) string {
	cleaned := strings.ReplaceAll(strings.TrimSpace(path), "\\", "/")
	if idx := strings.Index(cleaned, "://"); idx >= 0 {
		cleaned = cleaned[idx+len("://"):]
	}
	return strings.TrimLeft(cleaned, "/")
}
