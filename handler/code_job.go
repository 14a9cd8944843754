package handler

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/sorryhyun/dipeo-engine-go/graph"
)

// interpreterFor maps a node's declared "language" property to the
// interpreter binary that runs it. Unrecognized or empty languages default
// to "python3", mirroring the diagram authoring tools this engine serves.
var interpreterFor = map[string]string{
	"python":     "python3",
	"python3":    "python3",
	"bash":       "bash",
	"sh":         "sh",
	"javascript": "node",
	"node":       "node",
}

const defaultCodeJobTimeout = 30 * time.Second

// CodeJobHandler executes a node's "code" property in a bounded
// subprocess, writing the code to a temp file, running it with the
// configured interpreter under a context timeout, and capturing stdout as
// the node's output value. Every exit path removes the temp file via
// defer.
type CodeJobHandler struct{}

func (h *CodeJobHandler) NodeType() graph.NodeType   { return graph.NodeCodeJob }
func (h *CodeJobHandler) RequiresServices() []string { return nil }

func (h *CodeJobHandler) Execute(ctx context.Context, node *graph.Node, execCtx *graph.ExecutionContext, inputs map[string]any, services graph.Services) (graph.NodeOutput, error) {
	code := node.PropString("code")
	if code == "" {
		return graph.NodeOutput{NodeID: node.ID, Value: ""}, nil
	}

	interpreter := interpreterFor[node.PropString("language")]
	if interpreter == "" {
		interpreter = "python3"
	}

	timeout := time.Duration(node.PropInt("timeout", 0)) * time.Second
	if timeout <= 0 {
		timeout = defaultCodeJobTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	tmp, err := os.CreateTemp("", "dipeo-codejob-*")
	if err != nil {
		return graph.NodeOutput{}, fmt.Errorf("code_job: creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.WriteString(code); err != nil {
		tmp.Close()
		return graph.NodeOutput{}, fmt.Errorf("code_job: writing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return graph.NodeOutput{}, fmt.Errorf("code_job: closing temp file: %w", err)
	}

	cmd := exec.CommandContext(runCtx, interpreter, tmp.Name())
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	if runCtx.Err() != nil {
		return graph.NodeOutput{}, &graph.EngineError{
			Message: fmt.Sprintf("code_job exceeded timeout of %v", timeout),
			Code:    graph.CodeNodeTimeout,
			NodeID:  node.ID,
			Cause:   runCtx.Err(),
		}
	}
	if runErr != nil {
		return graph.NodeOutput{}, &graph.EngineError{
			Message: fmt.Sprintf("code_job failed: %v: %s", runErr, stderr.String()),
			Code:    graph.CodeHandlerFailure,
			NodeID:  node.ID,
			Cause:   runErr,
		}
	}

	return graph.NodeOutput{
		NodeID:   node.ID,
		Value:    stdout.String(),
		Metadata: map[string]any{"stderr": stderr.String()},
	}, nil
}
