package license

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"strconv"
	"strings"
	"testing"
	"time"

	"smallbiznis-licensing/pkg/errutil"

	"github.com/stretchr/testify/require"
)

var codecNow = time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)

func newTestCodec(t *testing.T, secret string, previous ...string) *Codec {
	t.Helper()
	c, err := NewCodec(secret, previous...)
	require.NoError(t, err)
	c.now = func() time.Time { return codecNow }
	return c
}

func sampleLicense(t LicenseType, expiresAt *time.Time) *License {
	tier, _ := TierFor(t)
	l := &License{
		ID:           42,
		LicenseKey:   tier.Prefix + "-M0ABCD-0011-2233-4455-6677-8899-aabb-ccdd-eeff",
		Type:         t,
		Status:       Pending,
		CompanyName:  "Acme",
		ContactEmail: "a@acme.com",
		IssuedAt:     codecNow.Add(-24 * time.Hour),
		ExpiresAt:    expiresAt,
	}
	tier.apply(l)
	return l
}

func decodeEnvelope(t *testing.T, file string) offlineEnvelope {
	t.Helper()
	raw, err := base64.StdEncoding.DecodeString(file)
	require.NoError(t, err)
	var env offlineEnvelope
	require.NoError(t, json.Unmarshal(raw, &env))
	return env
}

func encodeEnvelope(t *testing.T, env offlineEnvelope) string {
	t.Helper()
	raw, err := json.Marshal(env)
	require.NoError(t, err)
	return base64.StdEncoding.EncodeToString(raw)
}

func TestNewCodecRequiresSecret(t *testing.T) {
	_, err := NewCodec("")
	require.ErrorIs(t, err, ErrMissingSecret)
}

func TestGenerateKey(t *testing.T) {
	c := newTestCodec(t, "s3cret")
	c.random = bytes.NewReader(bytes.Repeat([]byte{0xab, 0x01}, 64))

	stamp := strings.ToUpper(strconv.FormatInt(codecNow.UnixMilli(), 36))

	for _, lt := range AllTypes() {
		tier, _ := TierFor(lt)
		key, err := c.GenerateKey(lt)
		require.NoError(t, err)
		require.Equal(t, tier.Prefix+"-"+stamp+"-ab01-ab01-ab01-ab01-ab01-ab01-ab01-ab01", key)
	}
}

func TestGenerateKeyFormat(t *testing.T) {
	c, err := NewCodec("s3cret")
	require.NoError(t, err)

	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		key, err := c.GenerateKey(Professional)
		require.NoError(t, err)
		require.Regexp(t, `^PRO-[0-9A-Z]+-([0-9a-f]{4}-){7}[0-9a-f]{4}$`, key)
		require.False(t, seen[key])
		seen[key] = true
	}
}

func TestGenerateKeyUnknownType(t *testing.T) {
	c := newTestCodec(t, "s3cret")
	_, err := c.GenerateKey(LicenseType("gold"))
	require.Error(t, err)
	require.Equal(t, errutil.StatusBadRequest, errutil.StatusOf(err))
}

func TestOfflineFileRoundTrip(t *testing.T) {
	c := newTestCodec(t, "s3cret")
	expires := codecNow.Add(30 * 24 * time.Hour)

	for _, lt := range AllTypes() {
		for _, exp := range []*time.Time{nil, &expires} {
			l := sampleLicense(lt, exp)
			fp := Fingerprint(MachineAttributes{MachineID: string(lt), Hostname: "h", Platform: "linux", CPUCores: 4})

			file, err := c.EncodeOfflineFile(l, fp)
			require.NoError(t, err)

			res := c.DecodeAndVerifyOfflineFile(file, fp)
			require.True(t, res.Valid, res.Error)
			require.Equal(t, l.LicenseKey, res.License.LicenseKey)
			require.Equal(t, l.Type, res.License.Type)
			require.Equal(t, Active, res.License.Status)
			require.Equal(t, l.MaxUsers, res.License.MaxUsers)
			require.ElementsMatch(t, l.Features, res.License.Features)
			require.Equal(t, fp, *res.License.HardwareFingerprint)
			require.True(t, l.IssuedAt.Equal(res.License.IssuedAt))
			if exp == nil {
				require.Nil(t, res.License.ExpiresAt)
			} else {
				require.True(t, exp.Equal(*res.License.ExpiresAt))
			}
		}
	}
}

func TestOfflineFileTamperedPayloadOrSignature(t *testing.T) {
	c := newTestCodec(t, "s3cret")
	fp := "0123456789abcdef0123456789abcdef"

	file, err := c.EncodeOfflineFile(sampleLicense(Standard, nil), fp)
	require.NoError(t, err)
	env := decodeEnvelope(t, file)

	for i := range env.Payload {
		tampered := env
		b := []byte(tampered.Payload)
		b[i] ^= 0x01
		tampered.Payload = string(b)

		res := c.DecodeAndVerifyOfflineFile(encodeEnvelope(t, tampered), fp)
		require.False(t, res.Valid)
		require.Equal(t, CodeInvalidArtifact, res.Code)
		require.Equal(t, CheckSignature, res.Check)
		require.Equal(t, MsgInvalidSignature, res.Error)
	}

	for i := range env.Signature {
		tampered := env
		b := []byte(tampered.Signature)
		b[i] ^= 0x01
		tampered.Signature = string(b)

		res := c.DecodeAndVerifyOfflineFile(encodeEnvelope(t, tampered), fp)
		require.False(t, res.Valid)
		require.Equal(t, CheckSignature, res.Check)
	}

	recased := env
	recased.Signature = strings.ToUpper(env.Signature)
	res := c.DecodeAndVerifyOfflineFile(encodeEnvelope(t, recased), fp)
	require.False(t, res.Valid)
	require.Equal(t, CheckSignature, res.Check)
}

func TestOfflineFileTamperedEncoding(t *testing.T) {
	c := newTestCodec(t, "s3cret")
	fp := "0123456789abcdef0123456789abcdef"

	file, err := c.EncodeOfflineFile(sampleLicense(Trial, nil), fp)
	require.NoError(t, err)

	for i := range file {
		b := []byte(file)
		b[i] ^= 0x01

		res := c.DecodeAndVerifyOfflineFile(string(b), fp)
		require.False(t, res.Valid, "byte %d", i)
		require.Equal(t, CodeInvalidArtifact, res.Code)
	}
}

func TestOfflineFileMalformed(t *testing.T) {
	c := newTestCodec(t, "s3cret")

	for _, content := range []string{
		"",
		"not base64 at all!",
		base64.StdEncoding.EncodeToString([]byte("{not json")),
		base64.StdEncoding.EncodeToString([]byte(`{"payload":"","signature":""}`)),
	} {
		res := c.DecodeAndVerifyOfflineFile(content, "fp")
		require.False(t, res.Valid)
		require.Equal(t, CheckStructure, res.Check)
		require.Equal(t, MsgInvalidFormat, res.Error)
	}
}

func TestOfflineFileFingerprintBinding(t *testing.T) {
	c := newTestCodec(t, "s3cret")
	file, err := c.EncodeOfflineFile(sampleLicense(Professional, nil), "machine-a")
	require.NoError(t, err)

	res := c.DecodeAndVerifyOfflineFile(file, "machine-b")
	require.False(t, res.Valid)
	require.Equal(t, CheckFingerprint, res.Check)
	require.Equal(t, MsgFingerprintMismatch, res.Error)
}

func TestOfflineFileSignatureCheckedBeforeFingerprint(t *testing.T) {
	signer := newTestCodec(t, "attacker")
	verifier := newTestCodec(t, "s3cret")

	file, err := signer.EncodeOfflineFile(sampleLicense(Enterprise, nil), "machine-a")
	require.NoError(t, err)

	res := verifier.DecodeAndVerifyOfflineFile(file, "machine-b")
	require.False(t, res.Valid)
	require.Equal(t, CheckSignature, res.Check)
}

func TestOfflineFileExpiry(t *testing.T) {
	c := newTestCodec(t, "s3cret")
	past := codecNow.Add(-time.Millisecond)

	file, err := c.EncodeOfflineFile(sampleLicense(Trial, &past), "machine-a")
	require.NoError(t, err)

	res := c.DecodeAndVerifyOfflineFile(file, "machine-a")
	require.False(t, res.Valid)
	require.Equal(t, CodeExpired, res.Code)
	require.Equal(t, CheckExpiry, res.Check)
	require.Equal(t, MsgExpired, res.Error)
}

func TestOfflineFileSecretRotation(t *testing.T) {
	old := newTestCodec(t, "old-secret")
	file, err := old.EncodeOfflineFile(sampleLicense(Standard, nil), "machine-a")
	require.NoError(t, err)

	strict := newTestCodec(t, "new-secret")
	require.False(t, strict.DecodeAndVerifyOfflineFile(file, "machine-a").Valid)

	rotated := newTestCodec(t, "new-secret", "old-secret")
	require.True(t, rotated.DecodeAndVerifyOfflineFile(file, "machine-a").Valid)

	// new files are signed with the current secret only
	fresh, err := rotated.EncodeOfflineFile(sampleLicense(Standard, nil), "machine-a")
	require.NoError(t, err)
	require.False(t, old.DecodeAndVerifyOfflineFile(fresh, "machine-a").Valid)
	require.True(t, strict.DecodeAndVerifyOfflineFile(fresh, "machine-a").Valid)
}

func TestEncodeOfflineFileRequiresFingerprint(t *testing.T) {
	c := newTestCodec(t, "s3cret")
	_, err := c.EncodeOfflineFile(sampleLicense(Trial, nil), "")
	require.Equal(t, errutil.StatusBadRequest, errutil.StatusOf(err))
}

func TestOfflineFileForeignSerialization(t *testing.T) {
	c := newTestCodec(t, "s3cret")
	fp := "0123456789abcdef0123456789abcdef"

	l := sampleLicense(Standard, nil)
	l.CompanyName = "A&B <Labs>"
	file, err := c.EncodeOfflineFile(l, fp)
	require.NoError(t, err)
	env := decodeEnvelope(t, file)

	// payload and envelope as a JavaScript producer writes them: no HTML
	// escaping, keys reordered, whitespace between tokens
	payload := strings.NewReplacer(`\u0026`, "&", `\u003c`, "<", `\u003e`, ">").Replace(env.Payload)
	require.Contains(t, payload, "A&B <Labs>")

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	require.NoError(t, enc.Encode(payload))
	raw := "{\n  \"signature\" : \"" + sign([]byte("s3cret"), []byte(payload)) + "\",\n  \"payload\" : " + strings.TrimSpace(buf.String()) + "\n}"

	res := c.DecodeAndVerifyOfflineFile(base64.StdEncoding.EncodeToString([]byte(raw)), fp)
	require.True(t, res.Valid, res.Error)
	require.Equal(t, "A&B <Labs>", res.License.CompanyName)
}

func TestOfflineFileEnvelopeKeysMatchExactly(t *testing.T) {
	c := newTestCodec(t, "s3cret")
	fp := "0123456789abcdef0123456789abcdef"

	file, err := c.EncodeOfflineFile(sampleLicense(Trial, nil), fp)
	require.NoError(t, err)
	env := decodeEnvelope(t, file)

	payload, err := json.Marshal(env.Payload)
	require.NoError(t, err)

	for _, raw := range []string{
		`{"Payload":` + string(payload) + `,"signature":"` + env.Signature + `"}`,
		`{"payload":` + string(payload) + `,"SIGNATURE":"` + env.Signature + `"}`,
		`{"payload":` + string(payload) + `,"signature":"` + env.Signature + `","extra":1}`,
		`{"payload":` + string(payload) + `}`,
		`{"payload":` + string(payload) + `,"signature":42}`,
	} {
		res := c.DecodeAndVerifyOfflineFile(base64.StdEncoding.EncodeToString([]byte(raw)), fp)
		require.False(t, res.Valid, raw)
		require.Equal(t, CheckStructure, res.Check, raw)
	}
}

func TestCodecClockIsUTC(t *testing.T) {
	c, err := NewCodec("s3cret")
	require.NoError(t, err)
	require.Equal(t, time.UTC, c.now().Location())
}
