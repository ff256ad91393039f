package plugin

import (
	"sort"
	"sync"

	"github.com/ragworks/raggo/internal/logger"
	raggerrors "github.com/ragworks/raggo/pkg/errors"
)

// Registry stores plugins indexed by (kind, name). Registration is
// fail-fast: a plugin that does not satisfy its kind's contract is rejected
// before any pipeline can compose it. The registry is read-mostly after
// startup; writes are serialized behind the mutex.
type Registry struct {
	mu      sync.RWMutex
	plugins map[Kind]map[string]any
	log     *logger.Logger
}

// NewRegistry returns an empty registry.
func NewRegistry(log *logger.Logger) *Registry {
	plugins := make(map[Kind]map[string]any, len(contracts))
	for kind := range contracts {
		plugins[kind] = make(map[string]any)
	}
	return &Registry{plugins: plugins, log: log}
}

// Register binds a plugin under (kind, name). An existing binding for the
// same pair is overwritten. Contract checks are structural; optional methods
// are reported diagnostically but never cause failure.
func (r *Registry) Register(kind Kind, name string, p any) error {
	if !kind.Valid() {
		return raggerrors.NewUnknownKind(string(kind))
	}
	if name == "" {
		return raggerrors.NewInvalidInput("name", "plugin name must not be empty")
	}
	if p == nil {
		return raggerrors.NewInvalidInput("plugin", "plugin must not be nil")
	}

	missing, optional := CheckContract(kind, p)
	if len(missing) > 0 {
		return raggerrors.NewContractViolation(string(kind), name, missing)
	}

	r.mu.Lock()
	_, replaced := r.plugins[kind][name]
	r.plugins[kind][name] = p
	r.mu.Unlock()

	if r.log != nil {
		fields := map[string]any{"kind": string(kind), "name": name}
		if len(optional) > 0 {
			fields["optional"] = optional
		}
		if replaced {
			r.log.WithFields(fields).Warn("plugin registration replaced existing binding")
		} else {
			r.log.WithFields(fields).Debug("plugin registered")
		}
	}
	return nil
}

// Get returns the plugin bound under (kind, name).
func (r *Registry) Get(kind Kind, name string) (any, error) {
	if !kind.Valid() {
		return nil, raggerrors.NewUnknownKind(string(kind))
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.plugins[kind][name]
	if !ok {
		return nil, raggerrors.NewPluginNotFound(string(kind), name)
	}
	return p, nil
}

// List returns the sorted plugin names registered for a kind.
func (r *Registry) List(kind Kind) ([]string, error) {
	if !kind.Valid() {
		return nil, raggerrors.NewUnknownKind(string(kind))
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.plugins[kind]))
	for name := range r.plugins[kind] {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Loader returns the named loader plugin with its typed interface.
func (r *Registry) Loader(name string) (Loader, error) {
	p, err := r.Get(KindLoader, name)
	if err != nil {
		return nil, err
	}
	loader, ok := p.(Loader)
	if !ok {
		return nil, typedMismatch(KindLoader, name, p)
	}
	return loader, nil
}

// Embedder returns the named embedder plugin with its typed interface.
func (r *Registry) Embedder(name string) (Embedder, error) {
	p, err := r.Get(KindEmbedder, name)
	if err != nil {
		return nil, err
	}
	embedder, ok := p.(Embedder)
	if !ok {
		return nil, typedMismatch(KindEmbedder, name, p)
	}
	return embedder, nil
}

// Retriever returns the named retriever plugin with its typed interface.
func (r *Registry) Retriever(name string) (Retriever, error) {
	p, err := r.Get(KindRetriever, name)
	if err != nil {
		return nil, err
	}
	retriever, ok := p.(Retriever)
	if !ok {
		return nil, typedMismatch(KindRetriever, name, p)
	}
	return retriever, nil
}

// LLM returns the named llm plugin with its typed interface.
func (r *Registry) LLM(name string) (LLM, error) {
	p, err := r.Get(KindLLM, name)
	if err != nil {
		return nil, err
	}
	llm, ok := p.(LLM)
	if !ok {
		return nil, typedMismatch(KindLLM, name, p)
	}
	return llm, nil
}

// Reranker returns the named reranker plugin with its typed interface.
func (r *Registry) Reranker(name string) (Reranker, error) {
	p, err := r.Get(KindReranker, name)
	if err != nil {
		return nil, err
	}
	reranker, ok := p.(Reranker)
	if !ok {
		return nil, typedMismatch(KindReranker, name, p)
	}
	return reranker, nil
}

// typedMismatch covers plugins that passed the structural method-presence
// check but whose signatures differ from the typed interface the executor
// calls. It surfaces as a contract violation naming the required methods.
func typedMismatch(kind Kind, name string, _ any) error {
	contract := contracts[kind]
	return raggerrors.NewContractViolation(string(kind), name, append([]string(nil), contract.Required...))
}
