// Package middleware provides composable wrappers around engine
// operations. Every turn a workflow instance processes runs through the
// configured chain, giving logging, panic recovery, tracing, and metrics
// a single interception point.
package middleware
