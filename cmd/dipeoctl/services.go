package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sorryhyun/dipeo-engine-go/graph"
	"github.com/sorryhyun/dipeo-engine-go/graph/model"
	"github.com/sorryhyun/dipeo-engine-go/graph/model/anthropic"
	"github.com/sorryhyun/dipeo-engine-go/graph/model/google"
	"github.com/sorryhyun/dipeo-engine-go/graph/model/openai"
	"github.com/sorryhyun/dipeo-engine-go/handler"
)

// liveModelFactory dispatches a person's configured service name to the
// matching provider adapter. It is registered under handler.ServiceLLM on
// the engine's Services map, resolved once per person_job/person_batch_job
// call rather than held on the handler.
func liveModelFactory(service, modelName, apiKey string) (model.ChatModel, error) {
	switch strings.ToLower(service) {
	case "anthropic", "claude":
		return anthropic.NewChatModel(apiKey, modelName), nil
	case "openai":
		return openai.NewChatModel(apiKey, modelName), nil
	case "google", "gemini":
		return google.NewChatModel(apiKey, modelName), nil
	default:
		return nil, fmt.Errorf("no model adapter registered for service %q", service)
	}
}

// dirFileService writes node output to disk under a base directory,
// rejecting any path that escapes it, that uses a disallowed extension, or
// whose content exceeds the configured size bound.
type dirFileService struct {
	baseDir    string
	allowedExt []string
	maxSize    int64
}

func (s dirFileService) WriteFile(path string, content []byte) error {
	full := path
	if !filepath.IsAbs(full) {
		full = filepath.Join(s.baseDir, path)
	}
	if rel, err := filepath.Rel(s.baseDir, full); err != nil || strings.HasPrefix(rel, "..") {
		return fmt.Errorf("endpoint: path %q escapes base directory %q", path, s.baseDir)
	}
	if len(s.allowedExt) > 0 {
		ext := strings.TrimPrefix(filepath.Ext(path), ".")
		ok := false
		for _, allowed := range s.allowedExt {
			if strings.EqualFold(ext, allowed) {
				ok = true
				break
			}
		}
		if !ok {
			return fmt.Errorf("endpoint: extension %q not in allowed list %v", ext, s.allowedExt)
		}
	}
	if s.maxSize > 0 && int64(len(content)) > s.maxSize {
		return fmt.Errorf("endpoint: content size %d exceeds max upload size %d", len(content), s.maxSize)
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return err
	}
	return os.WriteFile(full, content, 0o644)
}

var _ handler.FileService = dirFileService{}

// jsonMemoryService answers db-node lookups from a flat JSON object loaded
// once at startup, standing in for the external key/value store a
// production deployment would point at instead.
type jsonMemoryService map[string]any

func loadMemoryService(path string) (jsonMemoryService, error) {
	if path == "" {
		return jsonMemoryService{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("memory: reading %s: %w", path, err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("memory: decoding %s: %w", path, err)
	}
	return jsonMemoryService(m), nil
}

func (s jsonMemoryService) Get(key string) (any, bool) {
	v, ok := s[key]
	return v, ok
}

var _ handler.MemoryService = jsonMemoryService{}

// stdinInteractive prompts on stderr and reads a reply from stdin, the
// terminal-attached analogue of a production deployment's chat-surfaced
// user_response handler.
func stdinInteractive(ctx context.Context, nodeID, prompt string, execCtx *graph.ExecutionContext) (string, error) {
	fmt.Fprintf(os.Stderr, "[%s] %s\n> ", nodeID, prompt)
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}
