package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Namespaces for deterministic identifiers.
var (
	ClaimNamespace  = uuid.NewSHA1(uuid.NameSpaceURL, []byte("urn:medoracle:claim"))
	RecordNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("urn:medoracle:record"))
)

// RecordID derives the idempotency key of a decision record from the claim
// id and the decision timestamp. Retrying the same decision always yields
// the same id.
func RecordID(claimID string, ts time.Time) string {
	name := claimID + "|" + ts.UTC().Format(time.RFC3339Nano)
	return uuid.NewSHA1(RecordNamespace, []byte(name)).String()
}

// AdjudicationID is the record id of the decision superseding original.
// A pending decision has at most one such record, so concurrent
// adjudications collide on insert.
func AdjudicationID(originalID string) string {
	return uuid.NewSHA1(RecordNamespace, []byte(originalID+"|adjudication")).String()
}

// DeriveClaimID builds a deterministic claim id from canonical field values.
func DeriveClaimID(values ...string) string {
	return uuid.NewSHA1(ClaimNamespace, []byte(strings.Join(values, "|"))).String()
}
