package license

// Code classifies a negative business outcome. Codes are terminal and safe
// to show to an end user; infrastructure failures never appear here.
type Code string

var (
	CodeNotFound        Code = "not_found"
	CodeAlreadyBound    Code = "already_bound"
	CodeExpired         Code = "expired"
	CodeRevoked         Code = "revoked"
	CodeInvalidArtifact Code = "invalid_artifact"
)

func (c Code) String() string {
	switch c {
	case CodeNotFound, CodeAlreadyBound, CodeExpired, CodeRevoked, CodeInvalidArtifact:
		return string(c)
	default:
		return ""
	}
}

// Check names the offline verification step that rejected an artifact.
type Check string

var (
	CheckStructure   Check = "structure"
	CheckSignature   Check = "signature"
	CheckFingerprint Check = "fingerprint"
	CheckExpiry      Check = "expiry"
)

const (
	MsgNotFound            = "License not found"
	MsgRevoked             = "License has been revoked"
	MsgExpired             = "License has expired"
	MsgAlreadyBound        = "License already activated on another machine"
	MsgInvalidFormat       = "Invalid license file format"
	MsgInvalidSignature    = "Invalid license signature"
	MsgFingerprintMismatch = "Hardware fingerprint mismatch"
)

// Result is the outcome of an activation, validation or offline operation.
type Result struct {
	Valid   bool     `json:"valid"`
	License *License `json:"license,omitempty"`
	Code    Code     `json:"code,omitempty"`
	Error   string   `json:"error,omitempty"`
	// Check is set only for offline verification failures.
	Check Check `json:"check,omitempty"`
	// File carries the generated artifact for GenerateOfflineFile.
	File string `json:"file,omitempty"`
	// Synced is false when an offline activation verified locally but could
	// not be written back to the store.
	Synced bool `json:"synced"`
}

func succeeded(l *License) *Result {
	return &Result{Valid: true, License: l, Synced: true}
}

func rejected(code Code, msg string) *Result {
	return &Result{Code: code, Error: msg}
}

func rejectedAt(code Code, check Check, msg string) *Result {
	return &Result{Code: code, Check: check, Error: msg}
}
