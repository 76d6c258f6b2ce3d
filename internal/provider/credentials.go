package provider

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Credentials identify one OpenAI-compatible endpoint and the key used against it.
type Credentials struct {
	Endpoint string
	APIKey   string
}

// BaseURL returns the endpoint without trailing slashes.
func (c Credentials) BaseURL() string {
	return strings.TrimRight(c.Endpoint, "/")
}

// CacheKey identifies the credentials pair without holding the raw key.
func (c Credentials) CacheKey() string {
	sum := sha256.Sum256([]byte(c.APIKey))
	return c.BaseURL() + "|" + hex.EncodeToString(sum[:8])
}
