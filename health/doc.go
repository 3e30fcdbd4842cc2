// Package health reports the health of a service built on request-scoped
// commands.
//
// Checkers cover the pieces such a service depends on: PingCheck for the
// backing store, CircuitCheck for the per-command circuit breakers and
// ScopeCheck for request scopes that are never ended. An Aggregator runs
// them concurrently and Routes exposes them over HTTP:
//
//	agg := health.NewAggregator(health.AggregatorConfig{})
//	agg.Register(health.PingCheck("database", sqlDB.PingContext))
//	agg.Register(health.CircuitCheck(breakers))
//	agg.Register(health.ScopeCheck(registry, 1000))
//
//	router := chi.NewRouter()
//	health.Routes(router, agg)
//
// A degraded check keeps /readyz at 200; an unhealthy one turns it to 503.
package health
