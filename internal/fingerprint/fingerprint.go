// Package fingerprint derives the stable identities that join every other
// governance entity: command fingerprints, promotion fingerprints, plan
// hashes, and scheduler window ids. All digests are SHA-256 and all inputs
// are normalized before hashing, so the same logical command always maps
// to the same key regardless of which component computed it.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/steward-sh/steward/internal/model"
)

// Command returns the hex digest identifying one normalized command within
// an optional domain scope. The scope is joined with "|" so that the empty
// scope and a scope equal to a command prefix can never collide.
func Command(domainScope, normalizedCommand string) string {
	h := sha256.Sum256([]byte(domainScope + "|" + normalizedCommand))
	return hex.EncodeToString(h[:])
}

// Promotion returns the fingerprint a promotion record is keyed by.
// Capabilities are sorted first: promotion identity must not depend on the
// order a plan happened to list them in.
func Promotion(normalizedCommand string, capabilities []string, adapterType string) string {
	caps := make([]string, len(capabilities))
	copy(caps, capabilities)
	sort.Strings(caps)

	h := sha256.Sum256([]byte(normalizedCommand + "|" + strings.Join(caps, ",") + "|" + adapterType))
	return hex.EncodeToString(h[:])
}

// Window returns the 16-character id of one recurrence window. The window
// start is rendered as RFC 3339 UTC so two processes computing the id for
// the same occurrence always agree.
func Window(jobID string, windowStart time.Time) string {
	iso := windowStart.UTC().Format(time.RFC3339)
	h := sha256.Sum256([]byte(jobID + ":" + iso))
	return hex.EncodeToString(h[:])[:16]
}

// Plan returns the content hash of an execution plan. The hash covers the
// canonical JSON encoding; struct fields marshal in declaration order, so
// the same plan always produces the same bytes.
func Plan(p *model.ExecutionPlan) (string, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("fingerprint: marshal plan: %w", err)
	}
	h := sha256.Sum256(raw)
	return "sha256:" + hex.EncodeToString(h[:]), nil
}

// Snapshot returns the digest of a pre-execution state snapshot.
func Snapshot(raw []byte) string {
	h := sha256.Sum256(raw)
	return "sha256:" + hex.EncodeToString(h[:])
}
