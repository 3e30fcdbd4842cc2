// Package command registers read and write commands against a Runner and
// executes them inside the request scope carried by the context.
//
// A read command is cached per request under its command id. A write
// command names the read command it invalidates and the key specs that
// select the entries to remove:
//
//	runner, _ := command.NewRunner(command.WithExecutor(executor))
//
//	getUser, err := command.RegisterRead(runner, command.Read[User]{
//	    Group:   "users",
//	    Name:    "getUserById",
//	    Key:     cache.ArgKey("id"),
//	    Execute: repo.getUserByID,
//	})
//
//	updateUser, err := command.RegisterWrite(runner, command.Write{
//	    Group:   "users",
//	    Name:    "updateUser",
//	    Target:  getUser.ID(),
//	    Keys:    []cache.KeySpec{cache.PathKey("user", "id")},
//	    Execute: repo.updateUser,
//	})
//
// Key specs are validated at registration, so a key routine that does not
// exist fails at startup instead of on the first request.
//
// Command bodies run through a resilience.Executor, one circuit per command
// when it carries a resilience.CircuitBreakerGroup, and through the observe
// middleware for spans, metrics and logs. Cache hits skip both.
package command
