// Package ratelimit gates retrieval requests per (user, product) pair with
// a fixed-window counter. The check-and-increment is atomic per key so two
// concurrent requests cannot both take the last slot.
package ratelimit

import "context"

// Limiter admits or denies a request for a (user, product) pair. Allow must
// be O(1) and must not perform mailbox I/O; a denied request is terminal.
type Limiter interface {
	Allow(ctx context.Context, userID, productID int) (bool, error)
}
