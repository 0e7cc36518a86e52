package auth

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestHashAndVerifyPassword(t *testing.T) {
	hash, err := hashPassword("correct horse battery staple")
	if err != nil {
		t.Fatalf("hashPassword: %v", err)
	}
	if !strings.HasPrefix(hash, "$argon2id$") {
		t.Errorf("hash not PHC encoded: %q", hash)
	}

	ok, err := verifyPassword(hash, "correct horse battery staple")
	if err != nil {
		t.Fatalf("verifyPassword: %v", err)
	}
	if !ok {
		t.Error("correct password rejected")
	}

	ok, err = verifyPassword(hash, "wrong password")
	if err != nil {
		t.Fatalf("verifyPassword: %v", err)
	}
	if ok {
		t.Error("wrong password accepted")
	}
}

func TestHashPassword_TooShort(t *testing.T) {
	_, err := hashPassword("short")
	if !errors.Is(err, ErrPasswordTooShort) {
		t.Fatalf("expected ErrPasswordTooShort, got %v", err)
	}
}

func TestHashPassword_UniqueSalts(t *testing.T) {
	h1, err := hashPassword("samepassword")
	if err != nil {
		t.Fatalf("hashPassword: %v", err)
	}
	h2, err := hashPassword("samepassword")
	if err != nil {
		t.Fatalf("hashPassword: %v", err)
	}
	if h1 == h2 {
		t.Error("two hashes of the same password must differ")
	}
}

func TestVerifyPassword_MalformedHash(t *testing.T) {
	malformed := []string{
		"",
		"plaintext",
		"$bcrypt$v=19$m=65536,t=3,p=4$c2FsdA$a2V5",
		"$argon2id$v=19$garbage",
		"$argon2id$v=19$m=65536,t=3,p=4$!!!$a2V5",
	}
	for _, hash := range malformed {
		if _, err := verifyPassword(hash, "whatever"); !errors.Is(err, errMalformedHash) {
			t.Errorf("verifyPassword(%q): expected errMalformedHash, got %v", hash, err)
		}
	}
}

func TestTokenRoundTrip(t *testing.T) {
	secret := []byte("0123456789abcdef0123456789abcdef")
	now := time.Now()

	raw, err := issueToken(secret, TokenKindAccess, AccessTokenTTL, now)
	if err != nil {
		t.Fatalf("issueToken: %v", err)
	}

	c, err := parseToken(secret, raw, TokenKindAccess)
	if err != nil {
		t.Fatalf("parseToken: %v", err)
	}
	if c.Subject != adminSubject {
		t.Errorf("Subject: got %q, want %q", c.Subject, adminSubject)
	}
}

func TestParseToken_WrongKind(t *testing.T) {
	secret := []byte("0123456789abcdef0123456789abcdef")
	raw, err := issueToken(secret, TokenKindRefresh, RefreshTokenTTL, time.Now())
	if err != nil {
		t.Fatalf("issueToken: %v", err)
	}
	if _, err := parseToken(secret, raw, TokenKindAccess); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("refresh token accepted as access token: %v", err)
	}
}

func TestParseToken_Expired(t *testing.T) {
	secret := []byte("0123456789abcdef0123456789abcdef")
	issued := time.Now().Add(-48 * time.Hour)
	raw, err := issueToken(secret, TokenKindAccess, AccessTokenTTL, issued)
	if err != nil {
		t.Fatalf("issueToken: %v", err)
	}
	if _, err := parseToken(secret, raw, TokenKindAccess); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expired token accepted: %v", err)
	}
}

func TestParseToken_WrongSecret(t *testing.T) {
	raw, err := issueToken([]byte("0123456789abcdef0123456789abcdef"), TokenKindAccess, AccessTokenTTL, time.Now())
	if err != nil {
		t.Fatalf("issueToken: %v", err)
	}
	if _, err := parseToken([]byte("another-secret-another-secret-00"), raw, TokenKindAccess); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("token with wrong signature accepted: %v", err)
	}
}

func TestParseToken_Garbage(t *testing.T) {
	secret := []byte("0123456789abcdef0123456789abcdef")
	for _, raw := range []string{"", "not.a.jwt", "aaaa.bbbb.cccc"} {
		if _, err := parseToken(secret, raw, TokenKindAccess); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("parseToken(%q): expected ErrInvalidToken, got %v", raw, err)
		}
	}
}
