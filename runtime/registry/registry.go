// Package registry resolves (provider, modelId) pairs into bound model
// clients. Resolution is lazy: a client is built on first use with
// credentials looked up from the environment, then cached for the process
// lifetime. Provider constructors are injected so the registry stays
// decoupled from SDKs.
package registry

import (
	"fmt"
	"sync"

	"goa.design/agentd/runtime/model"
)

type (
	// Factory builds a bound model client for one provider.
	Factory func(apiKey, modelID string) (model.Client, error)

	// Provider describes one configured provider.
	Provider struct {
		// APIKeyEnv names the environment variable carrying the API key.
		APIKeyEnv string
	}

	// Options configures the registry.
	Options struct {
		// Providers maps provider names to their configuration. Required.
		Providers map[string]Provider
		// LookupEnv resolves environment variables. Defaults to a lookup
		// that always fails; cmd/agent injects os.LookupEnv.
		LookupEnv func(name string) (string, bool)
		// Middleware wraps every resolved client, when set (e.g. the
		// token-rate limiter).
		Middleware func(model.Client) model.Client
	}

	// Registry is the lazy per-(provider, modelId) client cache. Safe for
	// concurrent use.
	Registry struct {
		providers  map[string]Provider
		factories  map[string]Factory
		lookupEnv  func(string) (string, bool)
		middleware func(model.Client) model.Client

		mu      sync.Mutex
		clients map[bindKey]model.Client
	}

	bindKey struct {
		provider string
		modelID  string
	}
)

// New builds an empty registry; register provider factories before
// resolving.
func New(opts Options) (*Registry, error) {
	if len(opts.Providers) == 0 {
		return nil, fmt.Errorf("at least one provider is required")
	}
	lookup := opts.LookupEnv
	if lookup == nil {
		lookup = func(string) (string, bool) { return "", false }
	}
	return &Registry{
		providers:  opts.Providers,
		factories:  make(map[string]Factory),
		lookupEnv:  lookup,
		middleware: opts.Middleware,
		clients:    make(map[bindKey]model.Client),
	}, nil
}

// Register installs the factory for a provider name. Registering twice
// replaces the previous factory.
func (r *Registry) Register(provider string, f Factory) {
	r.mu.Lock()
	r.factories[provider] = f
	r.mu.Unlock()
}

// Resolve returns the bound client for (provider, modelID), building it on
// first use.
func (r *Registry) Resolve(provider, modelID string) (model.Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := bindKey{provider, modelID}
	if c, ok := r.clients[key]; ok {
		return c, nil
	}
	cfg, ok := r.providers[provider]
	if !ok {
		return nil, fmt.Errorf("provider %q is not configured", provider)
	}
	factory, ok := r.factories[provider]
	if !ok {
		return nil, fmt.Errorf("provider %q is not supported", provider)
	}
	apiKey, ok := r.lookupEnv(cfg.APIKeyEnv)
	if !ok || apiKey == "" {
		return nil, fmt.Errorf("provider %q: environment variable %s is not set", provider, cfg.APIKeyEnv)
	}
	client, err := factory(apiKey, modelID)
	if err != nil {
		return nil, fmt.Errorf("provider %q: %w", provider, err)
	}
	if r.middleware != nil {
		client = r.middleware(client)
	}
	r.clients[key] = client
	return client, nil
}
