package steward

import (
	"context"
)

// ToolFunc is the function signature that Wrap guards.
// The caller provides an Action describing the intended operation.
type ToolFunc func(ctx context.Context, action Action) (any, error)

// Wrap returns a new ToolFunc that runs the gate before calling fn.
// If the gate does not clear the action, Wrap returns a *BlockedError
// without calling fn.
func (c *Client) Wrap(fn ToolFunc, opts ...WrapOption) ToolFunc {
	wcfg := wrapConfig{mode: c.cfg.mode}
	for _, o := range opts {
		o(&wcfg)
	}

	return func(ctx context.Context, action Action) (any, error) {
		res, err := c.submit(ctx, action, wcfg.mode)
		if err != nil {
			return nil, err
		}
		if !res.Cleared() {
			return nil, &BlockedError{
				Action:      action,
				Decision:    res.Decision,
				Reason:      res.Reason,
				ExecutionID: res.ExecutionID,
				PlanHash:    res.PlanHash,
				RetryAt:     res.RetryAt,
			}
		}
		return fn(ctx, action)
	}
}
