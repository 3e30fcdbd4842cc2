package health_test

import (
	"context"
	"fmt"

	"github.com/jonwraymond/reqcache/cache"
	"github.com/jonwraymond/reqcache/health"
)

func ExampleScopeCheck() {
	reg := cache.NewRegistry(cache.DefaultPolicy())
	agg := health.NewAggregator(health.AggregatorConfig{})
	agg.Register(health.ScopeCheck(reg, 10))
	agg.Register(health.PingCheck("database", func(context.Context) error { return nil }))

	results := agg.CheckAll(context.Background())
	fmt.Println(health.Overall(results))
	fmt.Println(results["request_scopes"].Message)
	// Output:
	// healthy
	// 0 active request scopes
}
