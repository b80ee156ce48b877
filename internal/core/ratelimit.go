package core

import "time"

// BucketState is a point-in-time view of a per-base token bucket.
type BucketState struct {
	BaseID     string    `json:"base_id"`
	Capacity   float64   `json:"capacity"`
	RefillRate float64   `json:"refill_rate"`
	Tokens     float64   `json:"tokens"`
	LastRefill time.Time `json:"last_refill"`
}
