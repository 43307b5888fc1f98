package license

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"smallbiznis-licensing/pkg/errutil"
)

const offlineFormatVersion = 1

var ErrMissingSecret = errors.New("license: signing secret is not configured")

// offlineEnvelope is the outer JSON object of an offline license file. Payload
// holds the exact bytes that were signed.
type offlineEnvelope struct {
	Payload   string `json:"payload"`
	Signature string `json:"signature"`
}

type offlinePayload struct {
	Version      int         `json:"version"`
	ID           int64       `json:"id"`
	LicenseKey   string      `json:"license_key"`
	Type         LicenseType `json:"type"`
	CompanyName  string      `json:"company_name"`
	ContactEmail string      `json:"contact_email"`
	MaxUsers     int         `json:"max_users"`
	MaxLines     int         `json:"max_lines"`
	MaxPlans     int         `json:"max_plans"`
	Features     []string    `json:"features"`
	IssuedAt     time.Time   `json:"issued_at"`
	ExpiresAt    *time.Time  `json:"expires_at"`
	Fingerprint  string      `json:"fingerprint"`
	GeneratedAt  time.Time   `json:"generated_at"`
}

// Codec generates license keys and signs or verifies offline license files.
// Files are signed with the current secret and accepted under the current
// secret or any of the previous ones.
type Codec struct {
	secret   []byte
	previous [][]byte

	now    func() time.Time
	random io.Reader
}

func NewCodec(secret string, previous ...string) (*Codec, error) {
	if secret == "" {
		return nil, ErrMissingSecret
	}

	c := &Codec{
		secret: []byte(secret),
		now:    func() time.Time { return time.Now().UTC() },
		random: rand.Reader,
	}
	for _, p := range previous {
		if p = strings.TrimSpace(p); p != "" && p != secret {
			c.previous = append(c.previous, []byte(p))
		}
	}
	return c, nil
}

// GenerateKey builds {PREFIX}-{BASE36 epoch ms}-{xxxx-xxxx-...} from 16 random
// bytes. Keys are unique with high probability only; the store enforces it.
func (c *Codec) GenerateKey(t LicenseType) (string, error) {
	tier, ok := TierFor(t)
	if !ok {
		return "", errutil.BadRequest(fmt.Sprintf("unknown license type %q", t), nil)
	}

	buf := make([]byte, 16)
	if _, err := io.ReadFull(c.random, buf); err != nil {
		return "", errutil.Internal("failed to read random bytes", err)
	}

	raw := hex.EncodeToString(buf)
	groups := make([]string, 0, len(raw)/4)
	for i := 0; i < len(raw); i += 4 {
		groups = append(groups, raw[i:i+4])
	}

	stamp := strings.ToUpper(strconv.FormatInt(c.now().UnixMilli(), 36))
	return tier.Prefix + "-" + stamp + "-" + strings.Join(groups, "-"), nil
}

// EncodeOfflineFile signs everything a disconnected machine needs to honour
// the license and binds it to fingerprint.
func (c *Codec) EncodeOfflineFile(l *License, fingerprint string) (string, error) {
	if l == nil || l.LicenseKey == "" {
		return "", errutil.BadRequest("license is required", nil)
	}
	if fingerprint == "" {
		return "", errutil.BadRequest("fingerprint is required", nil)
	}

	payload, err := json.Marshal(offlinePayload{
		Version:      offlineFormatVersion,
		ID:           l.ID,
		LicenseKey:   l.LicenseKey,
		Type:         l.Type,
		CompanyName:  l.CompanyName,
		ContactEmail: l.ContactEmail,
		MaxUsers:     l.MaxUsers,
		MaxLines:     l.MaxLines,
		MaxPlans:     l.MaxPlans,
		Features:     append([]string{}, l.Features...),
		IssuedAt:     l.IssuedAt.UTC(),
		ExpiresAt:    utcPtr(l.ExpiresAt),
		Fingerprint:  fingerprint,
		GeneratedAt:  c.now().UTC(),
	})
	if err != nil {
		return "", errutil.Internal("failed to encode license payload", err)
	}

	envelope, err := json.Marshal(offlineEnvelope{
		Payload:   string(payload),
		Signature: sign(c.secret, payload),
	})
	if err != nil {
		return "", errutil.Internal("failed to encode license file", err)
	}

	return base64.StdEncoding.EncodeToString(envelope), nil
}

// DecodeAndVerifyOfflineFile checks structure, signature, fingerprint and
// expiry, in that order. No payload field is trusted before the signature
// matches.
func (c *Codec) DecodeAndVerifyOfflineFile(content, fingerprint string) *Result {
	raw, err := base64.StdEncoding.Strict().DecodeString(strings.TrimSpace(content))
	if err != nil {
		return rejectedAt(CodeInvalidArtifact, CheckStructure, MsgInvalidFormat)
	}

	env, ok := parseEnvelope(raw)
	if !ok {
		return rejectedAt(CodeInvalidArtifact, CheckStructure, MsgInvalidFormat)
	}

	if !c.verify([]byte(env.Payload), env.Signature) {
		return rejectedAt(CodeInvalidArtifact, CheckSignature, MsgInvalidSignature)
	}

	var p offlinePayload
	if err := json.Unmarshal([]byte(env.Payload), &p); err != nil || p.LicenseKey == "" {
		return rejectedAt(CodeInvalidArtifact, CheckStructure, MsgInvalidFormat)
	}

	if p.Fingerprint != fingerprint {
		return rejectedAt(CodeAlreadyBound, CheckFingerprint, MsgFingerprintMismatch)
	}

	now := c.now()
	if p.ExpiresAt != nil && p.ExpiresAt.Before(now) {
		return rejectedAt(CodeExpired, CheckExpiry, MsgExpired)
	}

	fp := p.Fingerprint
	return &Result{
		Valid: true,
		License: &License{
			ID:                  p.ID,
			LicenseKey:          p.LicenseKey,
			Type:                p.Type,
			Status:              Active,
			CompanyName:         p.CompanyName,
			ContactEmail:        p.ContactEmail,
			MaxUsers:            p.MaxUsers,
			MaxLines:            p.MaxLines,
			MaxPlans:            p.MaxPlans,
			Features:            p.Features,
			IssuedAt:            p.IssuedAt,
			ExpiresAt:           p.ExpiresAt,
			ActivatedAt:         &now,
			HardwareFingerprint: &fp,
		},
	}
}

// parseEnvelope accepts any JSON serialization of the envelope. Keys match
// exactly and no other members are allowed.
func parseEnvelope(raw []byte) (offlineEnvelope, bool) {
	var members map[string]json.RawMessage
	if err := json.Unmarshal(raw, &members); err != nil || len(members) != 2 {
		return offlineEnvelope{}, false
	}

	var env offlineEnvelope
	if err := json.Unmarshal(members["payload"], &env.Payload); err != nil {
		return offlineEnvelope{}, false
	}
	if err := json.Unmarshal(members["signature"], &env.Signature); err != nil {
		return offlineEnvelope{}, false
	}
	return env, env.Payload != "" && env.Signature != ""
}

// verify compares hex digests rather than decoded bytes so that a re-cased
// signature does not verify.
func (c *Codec) verify(payload []byte, signature string) bool {
	matched := hmac.Equal([]byte(sign(c.secret, payload)), []byte(signature))
	for _, prev := range c.previous {
		if hmac.Equal([]byte(sign(prev, payload)), []byte(signature)) {
			matched = true
		}
	}
	return matched
}

func sign(secret, payload []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
