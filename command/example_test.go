package command_test

import (
	"context"
	"fmt"

	"github.com/jonwraymond/reqcache/cache"
	"github.com/jonwraymond/reqcache/command"
)

func Example() {
	names := map[string]string{"1": "ada"}
	reads := 0

	runner, _ := command.NewRunner()
	getName, _ := command.RegisterRead(runner, command.Read[string]{
		Group: "users",
		Name:  "getName",
		Key:   cache.ArgKey("id"),
		Execute: func(_ context.Context, args cache.Args) (string, error) {
			reads++
			id, _ := args.Lookup("id")
			return names[id.(string)], nil
		},
	})
	rename, _ := command.RegisterWrite(runner, command.Write{
		Group:  "users",
		Name:   "rename",
		Target: getName.ID(),
		Keys:   []cache.KeySpec{cache.ArgKey("id")},
		Execute: func(_ context.Context, args cache.Args) error {
			id, _ := args.Lookup("id")
			name, _ := args.Lookup("name")
			names[id.(string)] = name.(string)
			return nil
		},
	})

	_ = cache.Do(context.Background(), func(ctx context.Context) error {
		a, _ := getName.Call(ctx, cache.A("id", "1"))
		b, _ := getName.Call(ctx, cache.A("id", "1"))
		fmt.Println(a, b, "reads:", reads)

		_ = rename.Call(ctx, cache.A("id", "1"), cache.A("name", "grace"))
		c, _ := getName.Call(ctx, cache.A("id", "1"))
		fmt.Println(c, "reads:", reads)
		return nil
	})
	// Output:
	// ada ada reads: 1
	// grace reads: 2
}
