// Package cmd provides common initialization functions for command-line applications.
package cmd

import (
	"log/slog"

	"github.com/dukex/canvasflow/pkg/executor"
	"github.com/dukex/canvasflow/pkg/nodes/crop"
	"github.com/dukex/canvasflow/pkg/nodes/extract"
	"github.com/dukex/canvasflow/pkg/nodes/image"
	"github.com/dukex/canvasflow/pkg/nodes/llm"
	"github.com/dukex/canvasflow/pkg/nodes/text"
	"github.com/dukex/canvasflow/pkg/nodes/transform"
	"github.com/dukex/canvasflow/pkg/nodes/video"
)

// RegistryConfig carries the credentials native nodes need.
type RegistryConfig struct {
	GeminiAPIKey  string
	GeminiBaseURL string
}

func registerNativeNodes(reg *executor.Registry, log *slog.Logger, cfg RegistryConfig) {
	llmOpts := []llm.Option{llm.WithLogger(log.With("node_type", llm.Type))}
	if cfg.GeminiBaseURL != "" {
		llmOpts = append(llmOpts, llm.WithBaseURL(cfg.GeminiBaseURL))
	}

	reg.Register(text.Type, text.New())
	reg.Register(llm.Type, llm.New(cfg.GeminiAPIKey, llmOpts...))
	reg.Register(image.Type, image.New())
	reg.Register(video.Type, video.New())
	reg.Register(crop.Type, crop.New())
	reg.Register(extract.Type, extract.New())
	reg.Register(transform.Type, transform.New())
}

// NewRegistry builds the executor registry with every native node type.
// Unregistered types fall back to the passthrough executor.
func NewRegistry(log *slog.Logger, cfg RegistryConfig) *executor.Registry {
	reg := executor.NewRegistry(log)

	registerNativeNodes(reg, log, cfg)

	if cfg.GeminiAPIKey == "" {
		log.Warn("GEMINI_API_KEY is not set, llmNode runs will fail")
	}

	return reg
}
