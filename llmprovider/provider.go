// Package llmprovider bridges iris LLM providers to QuillFlow's
// core.LLMClient interface. The planner and test runner both consume
// clients created here.
package llmprovider

import (
	"fmt"

	"github.com/petal-labs/iris/providers"
	// Auto-register common providers.
	_ "github.com/petal-labs/iris/providers/anthropic"
	_ "github.com/petal-labs/iris/providers/ollama"
	_ "github.com/petal-labs/iris/providers/openai"

	"github.com/quillflow/quillflow/core"
)

// Config holds the credentials for one provider.
type Config struct {
	APIKey string
}

// NewClient creates a core.LLMClient for the named provider using the given
// config. It delegates to the iris provider registry to instantiate the
// underlying provider.
func NewClient(name string, cfg Config) (core.LLMClient, error) {
	provider, err := providers.Create(name, cfg.APIKey)
	if err != nil {
		return nil, fmt.Errorf("creating provider %q: %w", name, err)
	}
	return &irisAdapter{provider: provider}, nil
}
