package health

import (
	"context"
	"fmt"
	"slices"

	"github.com/jonwraymond/reqcache/cache"
	"github.com/jonwraymond/reqcache/resilience"
)

// PingCheck reports unhealthy when ping fails. It suits a database handle:
//
//	sqlDB, _ := db.DB()
//	health.PingCheck("database", sqlDB.PingContext)
func PingCheck(name string, ping func(context.Context) error) Checker {
	return NewCheckerFunc(name, func(ctx context.Context) Result {
		if err := ping(ctx); err != nil {
			return Unhealthy("ping failed", err)
		}
		return Healthy("reachable")
	})
}

// CircuitCheck reports degraded while any command circuit in group is open
// or half-open. The affected commands are listed in the details.
func CircuitCheck(group *resilience.CircuitBreakerGroup) Checker {
	return NewCheckerFunc("circuits", func(context.Context) Result {
		states := group.States()

		var tripped []string
		details := make(map[string]any, len(states))
		for command, state := range states {
			details[command] = state.String()
			if state != resilience.StateClosed {
				tripped = append(tripped, command)
			}
		}
		if len(tripped) == 0 {
			return Healthy(fmt.Sprintf("%d circuits closed", len(states))).WithDetails(details)
		}

		slices.Sort(tripped)
		r := Degraded(fmt.Sprintf("circuits not closed: %v", tripped)).WithDetails(details)
		r.Error = ErrCircuitOpen
		return r
	})
}

// ScopeCheck reports degraded when reg holds more than maxActive live
// request scopes, which points at scopes that are never ended.
func ScopeCheck(reg *cache.Registry, maxActive int) Checker {
	return NewCheckerFunc("request_scopes", func(context.Context) Result {
		active := reg.Active()
		details := map[string]any{"active": active, "max_active": maxActive}
		if active > maxActive {
			return Degraded(fmt.Sprintf("%d active request scopes", active)).WithDetails(details)
		}
		return Healthy(fmt.Sprintf("%d active request scopes", active)).WithDetails(details)
	})
}

// BulkheadCheck reports degraded while every slot of b is taken, since new
// commands then wait or fail with resilience.ErrBulkheadFull.
func BulkheadCheck(name string, b *resilience.Bulkhead) Checker {
	return NewCheckerFunc(name, func(context.Context) Result {
		m := b.Metrics()
		details := map[string]any{
			"active":         m.Active,
			"max_concurrent": m.MaxConcurrent,
			"peak":           m.MaxActive,
			"rejected":       m.Rejected,
		}
		if m.Available <= 0 {
			return Degraded(fmt.Sprintf("all %d slots in use", m.MaxConcurrent)).WithDetails(details)
		}
		return Healthy(fmt.Sprintf("%d of %d slots free", m.Available, m.MaxConcurrent)).WithDetails(details)
	})
}
