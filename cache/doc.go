// Package cache provides a request-scoped invocation cache.
//
// Read commands are memoized for the lifetime of one logical request and
// write commands invalidate entries of a named read command. A request is a
// Scope, begun with Registry.Begin (or the Middleware for net/http) and
// carried by its context.Context; everything cached in it is discarded by
// Registry.End.
//
// CacheResult and CacheRemove are the two call protocols. Both derive cache
// keys from named call arguments with a KeySpec: a designated argument
// (ArgKey), a dotted path into an argument (PathKey) or a key routine
// (FuncKey, FuncKeyOf, MethodKey). Outside a request scope CacheResult
// always computes and CacheRemove does nothing.
package cache
