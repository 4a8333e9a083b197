// Package logx is ticksched's structured logging: a thin Logger over
// zerolog with typed Field helpers, a Service that swaps sinks and level on
// config reload, and a token-bucket Limiter for hot-path call sites.
package logx
