package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// CacheKey identifies a cached listing for one account.
type CacheKey struct {
	// Endpoint is the API path relative to the base URL (e.g. "/contexts/")
	Endpoint string

	// QueryParams are the query parameters of the request
	QueryParams url.Values

	// Account separates listings of different API keys (see AccountFingerprint)
	Account string
}

// String generates a deterministic cache key string.
// Format: lingq:endpoint:query1=val1:acct=fingerprint
//
// Example:
//
//	lingq:contexts:acct=3f2a9c0d1e4b5a67
func (k CacheKey) String() string {
	parts := []string{"lingq"}

	endpoint := strings.Trim(k.Endpoint, "/")
	if endpoint != "" {
		parts = append(parts, endpoint)
	}

	// Query params sorted for determinism
	if len(k.QueryParams) > 0 {
		queryKeys := make([]string, 0, len(k.QueryParams))
		for key := range k.QueryParams {
			queryKeys = append(queryKeys, key)
		}
		sort.Strings(queryKeys)

		for _, key := range queryKeys {
			parts = append(parts, fmt.Sprintf("%s=%s", key, k.QueryParams.Get(key)))
		}
	}

	if k.Account != "" {
		parts = append(parts, "acct="+k.Account)
	}

	return strings.Join(parts, ":")
}

// AccountFingerprint derives a short, non-reversible account identifier from
// an API key so keys never end up in Redis.
func AccountFingerprint(apiKey string) string {
	if apiKey == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(apiKey))
	return hex.EncodeToString(sum[:8])
}
