package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// recordContent is the hashed portion of a record.
type recordContent struct {
	Decision Decision `json:"decision"`
	Claim    Claim    `json:"claim"`
	Verdict  Verdict  `json:"verdict"`
}

// ContentHash returns the SHA-256 of the canonical JSON encoding of a
// decision with its claim and verdict.
func ContentHash(d *Decision, c *Claim, v *Verdict) (string, error) {
	data, err := json.Marshal(recordContent{Decision: *d, Claim: *c, Verdict: *v})
	if err != nil {
		return "", fmt.Errorf("failed to encode record content: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// Verify recomputes the content hash and compares it with the stored one.
func (r *Record) Verify() (bool, string, error) {
	h, err := ContentHash(&r.Decision, &r.Claim, &r.Verdict)
	if err != nil {
		return false, "", err
	}
	return h == r.ContentHash, h, nil
}
