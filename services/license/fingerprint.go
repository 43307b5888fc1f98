package license

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
)

const fingerprintDelimiter = "|"

// MachineAttributes identify a machine. Every field is optional; CPUCores of
// zero means unknown.
type MachineAttributes struct {
	MachineID string `json:"machine_id"`
	Hostname  string `json:"hostname"`
	Platform  string `json:"platform"`
	CPUCores  int    `json:"cpu_cores"`
}

// Fingerprint derives the 128-bit machine fingerprint: the first 32 hex
// characters of SHA-256 over the delimited attributes. The same attributes
// always give the same fingerprint, across processes and restarts.
func Fingerprint(attrs MachineAttributes) string {
	cores := ""
	if attrs.CPUCores != 0 {
		cores = strconv.Itoa(attrs.CPUCores)
	}

	joined := strings.Join([]string{attrs.MachineID, attrs.Hostname, attrs.Platform, cores}, fingerprintDelimiter)
	sum := sha256.Sum256([]byte(joined))
	return hex.EncodeToString(sum[:])[:32]
}
