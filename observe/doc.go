// Package observe provides observability primitives for command execution.
//
// It is a pure instrumentation library: no execution, no transport, no I/O
// beyond exporter setup. Consumers wire the observer into the command runner
// or into server middleware. Logging is structured JSON backed by zap, with
// a logrus adapter for services already built on logrus.
package observe
