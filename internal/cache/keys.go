package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

func JobStatusKey(jobID uuid.UUID) string {
	return fmt.Sprintf("job:%s", jobID)
}

func RateLimitKey(keyPrefix string) string {
	return fmt.Sprintf("ratelimit:%s", keyPrefix)
}

// EnrichmentKey caches a provider lookup by its source identifier (email or
// profile URL) so repeat lookups inside the freshness window skip the
// external call.
func EnrichmentKey(provider, source string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(source))))
	return fmt.Sprintf("enrich:%s:%s", provider, hex.EncodeToString(sum[:16]))
}
