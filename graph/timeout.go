package graph

import (
	"context"
	"fmt"
	"time"
)

// getNodeTimeout determines the timeout duration for a node based on precedence:
// 1. NodePolicy.Timeout (per-node override)
// 2. defaultTimeout (engine-wide default)
// 3. 0 (no timeout, unlimited execution)
//
// US2: T019 - Timeout precedence logic
func getNodeTimeout(policy *NodePolicy, defaultTimeout time.Duration) time.Duration {
	// Check for per-node timeout override
	if policy != nil && policy.Timeout > 0 {
		return policy.Timeout
	}

	// Fall back to engine default
	if defaultTimeout > 0 {
		return defaultTimeout
	}

	// No timeout configured (0 = unlimited)
	return 0
}

// executeHandlerWithTimeout wraps a single handler invocation with timeout
// enforcement, adapted from a generic executeNodeWithTimeout[S] to the
// untyped Handler contract (Execute returns NodeOutput, not NodeResult[S]).
//
// Precedence for the effective timeout is NodePolicy.Timeout, then
// defaultTimeout, then unlimited.
func executeHandlerWithTimeout(
	ctx context.Context,
	h Handler,
	node *Node,
	execCtx *ExecutionContext,
	inputs map[string]any,
	services Services,
	policy *NodePolicy,
	defaultTimeout time.Duration,
) (NodeOutput, error) {
	timeout := getNodeTimeout(policy, defaultTimeout)

	if timeout == 0 {
		return h.Execute(ctx, node, execCtx, inputs, services)
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	out, err := h.Execute(timeoutCtx, node, execCtx, inputs, services)
	if timeoutCtx.Err() == context.DeadlineExceeded {
		return out, &EngineError{
			Message: fmt.Sprintf("node %s exceeded timeout of %v", node.ID, timeout),
			Code:    CodeNodeTimeout,
			NodeID:  node.ID,
		}
	}
	return out, err
}
