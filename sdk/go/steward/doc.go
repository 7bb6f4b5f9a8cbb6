// Package steward provides in-process command governance for Go agent
// frameworks. It wraps tool functions, runs each intended action through
// the steward gate (rate governor, circuit breaker, confidence decay,
// delegation, approval), and blocks anything the gate does not clear.
//
// Usage:
//
//	sw, err := steward.New(steward.WithConfig("~/.steward/config.yaml"))
//	wrapped := sw.Wrap(myTool)
//	result, err := wrapped(ctx, steward.WriteAction("/notion set pg_1 Status=Done", "notion"))
//
// The SDK links directly against internal packages for zero-subprocess
// overhead. External users import github.com/steward-sh/steward/sdk/go/steward.
package steward
