package llm

import (
	"context"
	"fmt"
	"sync"

	"github.com/modelrelay/relay/internal/config"
	"github.com/modelrelay/relay/pkg/api"
)

// Request is the uniform upstream chat contract. Model is always a concrete
// upstream model id by the time an adapter sees it.
type Request struct {
	Model       string
	Messages    []api.ChatMessage
	MaxTokens   int
	Temperature *float64
	Stream      bool
}

// Response is the uniform upstream result.
type Response struct {
	Content   string
	TokensIn  int
	TokensOut int
}

// Chunk is one element of a streamed response: a text increment, a final
// Response carrying usage, or a terminal error.
type Chunk struct {
	Delta string
	Final *Response
	Err   error
}

// Provider is the contract every upstream adapter implements.
type Provider interface {
	Name() string
	Type() string // e.g., "openai", "anthropic"
	Chat(ctx context.Context, req *Request) (*Response, error)
	Stream(ctx context.Context, req *Request) (<-chan Chunk, error)
}

// Constructor builds a provider from its configuration.
type Constructor func(cfg config.ProviderConfig) (Provider, error)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Constructor)
)

// Register installs a constructor for a provider type. Adapters call this
// from init().
func Register(providerType string, ctor Constructor) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[providerType] = ctor
}

// NewProvider builds a provider by looking up its type in the registry.
func NewProvider(cfg config.ProviderConfig) (Provider, error) {
	registryMu.RLock()
	ctor, ok := registry[cfg.Type]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown provider type %q", cfg.Type)
	}
	return ctor(cfg)
}
