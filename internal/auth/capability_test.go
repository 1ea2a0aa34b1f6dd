package auth

import (
	"strings"
	"testing"
	"time"
)

func newTestCodec(t *testing.T, now time.Time) *Codec {
	t.Helper()
	codec, err := NewCodec("unit-test-secret", WithClock(func() time.Time { return now }))
	if err != nil {
		t.Fatalf("NewCodec returned error: %v", err)
	}
	return codec
}

func TestNewCodecRequiresSecret(t *testing.T) {
	if _, err := NewCodec("   "); err != ErrNoSecret {
		t.Fatalf("expected ErrNoSecret, got %v", err)
	}
}

func TestSignVerifyRoundTrip(t *testing.T) {
	codec := newTestCodec(t, time.Unix(1_700_000_000, 0))
	token, err := codec.Sign("studio/studio.m3u8", time.Minute)
	if err != nil {
		t.Fatalf("Sign returned error: %v", err)
	}
	if !codec.Verify("studio/studio.m3u8", token) {
		t.Fatal("expected freshly signed token to verify")
	}
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	issued := time.Unix(1_700_000_000, 0)
	codec := newTestCodec(t, issued)
	token, err := codec.Sign("studio/studio.m3u8", time.Second)
	if err != nil {
		t.Fatalf("Sign returned error: %v", err)
	}

	late, err := NewCodec("unit-test-secret", WithClock(func() time.Time { return issued.Add(2 * time.Second) }))
	if err != nil {
		t.Fatalf("NewCodec returned error: %v", err)
	}
	if late.Verify("studio/studio.m3u8", token) {
		t.Fatal("expected expired token to be rejected")
	}
}

func TestVerifyRejectsOtherPaths(t *testing.T) {
	codec := newTestCodec(t, time.Unix(1_700_000_000, 0))
	token, err := codec.Sign("studio/studio.m3u8", time.Minute)
	if err != nil {
		t.Fatalf("Sign returned error: %v", err)
	}
	if codec.Verify("other/other.m3u8", token) {
		t.Fatal("expected token for a different asset to be rejected")
	}
}

func TestVerifyAcceptsMasterPlaylistSiblings(t *testing.T) {
	codec := newTestCodec(t, time.Unix(1_700_000_000, 0))
	token, err := codec.Sign("studio/studio.m3u8", time.Minute)
	if err != nil {
		t.Fatalf("Sign returned error: %v", err)
	}
	siblings := []string{
		"studio/studio_v0.m3u8",
		"studio/studio_v1_000.ts",
		"/studio/studio_v2_017.ts",
	}
	for _, sibling := range siblings {
		if !codec.Verify(sibling, token) {
			t.Fatalf("expected sibling %s to verify under the master token", sibling)
		}
	}
	if codec.Verify("studio.m3u8", token) {
		t.Fatal("expected single-segment path to fall outside the reuse rule")
	}
}

func TestVerifyRejectsStructurallyInvalidTokens(t *testing.T) {
	codec := newTestCodec(t, time.Unix(1_700_000_000, 0))
	valid, err := codec.Sign("studio/studio.m3u8", time.Minute)
	if err != nil {
		t.Fatalf("Sign returned error: %v", err)
	}
	signature := valid[strings.Index(valid, ".")+1:]

	cases := map[string]string{
		"empty":            "",
		"no separator":     "1700000060deadbeef",
		"missing sig":      "1700000060.",
		"non-numeric":      "soon." + signature,
		"zero expiry":      "0." + signature,
		"negative expiry":  "-5." + signature,
		"truncated sig":    "1700000060." + signature[:8],
		"flipped sig byte": "1700000060." + flipHexByte(signature),
	}
	for name, token := range cases {
		if codec.Verify("studio/studio.m3u8", token) {
			t.Fatalf("%s: expected token %q to be rejected", name, token)
		}
	}
}

func TestNormalizePath(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"studio/studio.m3u8", "studio/studio.m3u8"},
		{"/studio/studio.m3u8", "studio/studio.m3u8"},
		{"//studio/studio.m3u8", "studio/studio.m3u8"},
		{`studio\studio.m3u8`, "studio/studio.m3u8"},
		{"file:///studio/studio.m3u8", "studio/studio.m3u8"},
		{"  studio/clip.ts  ", "studio/clip.ts"},
	}
	for _, tc := range cases {
		if got := NormalizePath(tc.in); got != tc.want {
			t.Fatalf("NormalizePath(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func flipHexByte(signature string) string {
	replacement := "0"
	if strings.HasPrefix(signature, "0") {
		replacement = "1"
	}
	return replacement + signature[1:]
}
