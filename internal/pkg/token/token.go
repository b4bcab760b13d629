// Package token seals and opens mailbox ownership-proof tokens.
//
// A token is base64url(nonce || XChaCha20-Poly1305(json claims)). The claim
// names and the encoding are a stable wire format: tokens issued before a
// restart must still open afterwards for their whole validity window.
package token

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sender-identity/internal/domain"
	"golang.org/x/crypto/chacha20poly1305"
)

// TypeSenderVerification is the only accepted value of Claims.Type.
const TypeSenderVerification = "sender_verification"

// MaxAge matches the sender verification window.
const MaxAge = domain.VerificationWindow

const clockSkew = 5 * time.Minute

// Claims is the sealed payload. IssuedAt is Unix milliseconds.
type Claims struct {
	TenantID string `json:"tenantId"`
	SenderID string `json:"senderId"`
	Email    string `json:"email"`
	IssuedAt int64  `json:"issuedAt"`
	Type     string `json:"type"`
}

func (c *Claims) IssuedTime() time.Time {
	return time.UnixMilli(c.IssuedAt).UTC()
}

// Codec issues and parses tokens with a single symmetric key.
type Codec struct {
	aead cipher.AEAD
	now  func() time.Time
}

type Option func(*Codec)

// WithClock overrides the time source used for issuing and expiry checks.
func WithClock(now func() time.Time) Option {
	return func(c *Codec) { c.now = now }
}

// NewCodec builds a codec from a 32-byte key.
func NewCodec(key []byte, opts ...Option) (*Codec, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("token key: %w", err)
	}
	c := &Codec{aead: aead, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// NewCodecFromHex decodes a hex-encoded 32-byte key.
func NewCodecFromHex(hexKey string, opts ...Option) (*Codec, error) {
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("decode token key: %w", err)
	}
	return NewCodec(key, opts...)
}

// Issue seals a fresh token for the given sender. The 24h clock starts now.
func (c *Codec) Issue(tenantID, senderID, email string) (string, error) {
	claims := Claims{
		TenantID: tenantID,
		SenderID: senderID,
		Email:    email,
		IssuedAt: c.now().UnixMilli(),
		Type:     TypeSenderVerification,
	}
	plain, err := json.Marshal(claims)
	if err != nil {
		return "", fmt.Errorf("marshal token claims: %w", err)
	}
	nonce := make([]byte, c.aead.NonceSize(), c.aead.NonceSize()+len(plain)+c.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	sealed := c.aead.Seal(nonce, nonce, plain, nil)
	return base64.RawURLEncoding.EncodeToString(sealed), nil
}

// Parse opens tok and checks structure and age. It does not check the claims
// against any stored record; callers must compare Email with the sender.
func (c *Codec) Parse(tok string) (*Claims, error) {
	raw, err := base64.RawURLEncoding.DecodeString(tok)
	if err != nil {
		return nil, fmt.Errorf("malformed encoding: %w", domain.ErrTokenInvalid)
	}
	ns := c.aead.NonceSize()
	if len(raw) < ns+c.aead.Overhead() {
		return nil, fmt.Errorf("token too short: %w", domain.ErrTokenInvalid)
	}
	plain, err := c.aead.Open(nil, raw[:ns], raw[ns:], nil)
	if err != nil {
		return nil, fmt.Errorf("token authentication failed: %w", domain.ErrTokenInvalid)
	}
	var claims Claims
	if err := json.Unmarshal(plain, &claims); err != nil {
		return nil, fmt.Errorf("malformed claims: %w", domain.ErrTokenInvalid)
	}
	if claims.Type != TypeSenderVerification || claims.TenantID == "" || claims.SenderID == "" ||
		claims.Email == "" || claims.IssuedAt <= 0 {
		return nil, fmt.Errorf("incomplete claims: %w", domain.ErrTokenInvalid)
	}
	now := c.now()
	issued := claims.IssuedTime()
	if issued.After(now.Add(clockSkew)) {
		return nil, fmt.Errorf("issued in the future: %w", domain.ErrTokenInvalid)
	}
	if now.Sub(issued) > MaxAge {
		return nil, fmt.Errorf("issued %s ago: %w", now.Sub(issued).Round(time.Minute), domain.ErrTokenExpired)
	}
	return &claims, nil
}
