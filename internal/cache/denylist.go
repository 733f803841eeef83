package cache

import (
	"context"
	"fmt"
	"time"
)

const (
	// denylistPrefix is the Redis key prefix for revoked access token jtis.
	denylistPrefix = "auth:denylist:"

	// denylistCheckTimeout bounds the validator's Redis round trip so token
	// validation can never block indefinitely.
	denylistCheckTimeout = 500 * time.Millisecond
)

// RevokeToken denylists an access token jti until the token would have
// expired anyway. A non-positive TTL means the token is already stale and
// there is nothing to store.
func (c *Cache) RevokeToken(ctx context.Context, jti string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}

	key := denylistPrefix + jti
	if err := c.client.Set(ctx, key, "1", ttl).Err(); err != nil {
		return fmt.Errorf("denylist token: %w", err)
	}
	return nil
}

// IsTokenRevoked reports whether a jti has been denylisted.
// Redis trouble surfaces as an error: the caller must fail closed into a
// transient outcome rather than treat the token as valid.
func (c *Cache) IsTokenRevoked(ctx context.Context, jti string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, denylistCheckTimeout)
	defer cancel()

	key := denylistPrefix + jti
	n, err := c.client.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("check denylist: %w", err)
	}
	return n > 0, nil
}
