package cache

import "errors"

// ErrNotFound is returned by a tier when a key is absent.
var ErrNotFound = errors.New("cache: key not found")

// ErrSlowTierDegraded is surfaced via health when the slow tier is
// configured but unreachable; the cache itself keeps serving from the
// fast tier.
var ErrSlowTierDegraded = errors.New("cache: slow tier degraded")
