// Package ratelimit implements tiered token-bucket rate limiting for the
// agent-facing API surface.
package ratelimit

import "github.com/alexgutscher26/ClawTrace-sub001/internal/models"

// Route identifies the bucket class a request is charged against. Every
// request consumes from its route bucket; handshake and heartbeat routes are
// charged in addition to the global bucket by the middleware.
type Route string

const (
	RouteGlobal    Route = "global"
	RouteHandshake Route = "handshake"
	RouteHeartbeat Route = "heartbeat"
)

// BucketConfig describes one token bucket: its burst capacity and the steady
// refill rate in tokens per second.
type BucketConfig struct {
	Capacity   float64
	RefillRate float64
}

var tierConfigs = map[models.Tier]map[Route]BucketConfig{
	models.TierFree: {
		RouteGlobal:    {Capacity: 60, RefillRate: 1},           // 60 req/min
		RouteHandshake: {Capacity: 5, RefillRate: 5.0 / 600.0},  // 5 req/10min
		RouteHeartbeat: {Capacity: 3, RefillRate: 1.0 / 300.0},  // 1 req/5min
	},
	models.TierPro: {
		RouteGlobal:    {Capacity: 600, RefillRate: 10},          // 600 req/min
		RouteHandshake: {Capacity: 50, RefillRate: 50.0 / 600.0}, // 50 req/10min
		RouteHeartbeat: {Capacity: 20, RefillRate: 1.0 / 15.0},   // 1 req/15s
	},
	models.TierEnterprise: {
		RouteGlobal:    {Capacity: 5000, RefillRate: 100},
		RouteHandshake: {Capacity: 500, RefillRate: 1},
		RouteHeartbeat: {Capacity: 200, RefillRate: 2},
	},
}

// Config returns the bucket configuration for a tier and route. Unknown tiers
// fall back to free, unknown routes to the tier's global bucket.
func Config(tier models.Tier, route Route) BucketConfig {
	routes, ok := tierConfigs[tier]
	if !ok {
		routes = tierConfigs[models.TierFree]
	}
	if cfg, ok := routes[route]; ok {
		return cfg
	}
	return routes[RouteGlobal]
}
