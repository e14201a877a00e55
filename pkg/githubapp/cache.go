package githubapp

import (
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	tokenCacheSize = 256
	// Do not hand out tokens about to expire; GitHub tokens live ≤ 1 hour.
	tokenRefreshSkew = time.Minute
)

// tokenCache keys installation tokens by installation id. Entries are
// immutable; an expiring entry is replaced by a fresh mint, never mutated.
type tokenCache struct {
	entries *lru.Cache[int64, InstallationToken]
}

func newTokenCache() (*tokenCache, error) {
	entries, err := lru.New[int64, InstallationToken](tokenCacheSize)
	if err != nil {
		return nil, err
	}
	return &tokenCache{entries: entries}, nil
}

func (c *tokenCache) get(installationID int64, now time.Time) (InstallationToken, bool) {
	token, ok := c.entries.Get(installationID)
	if !ok || !token.usable(now, tokenRefreshSkew) {
		return InstallationToken{}, false
	}
	return token, true
}

func (c *tokenCache) put(token InstallationToken) {
	c.entries.Add(token.InstallationID, token)
}
