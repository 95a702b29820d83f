package provider

import (
	"fmt"
	"sort"
	"sync"
)

// Factory builds live ModelProvider instances for one provider family
// (e.g. "openai", "google", "anthropic", "bedrock", "ollama"). Adapter
// packages register a Factory from their init() function, mirroring the
// ai.ProviderFactory registration idiom.
type Factory interface {
	// Family is the stable key used to route a provider name to this
	// factory (e.g. provider name "google-gemini-1.5-pro" routes to the
	// "google" factory).
	Family() string
	// Kind reports the adapter kind this factory produces.
	Kind() Kind
	// Build constructs a live instance for name using the decrypted
	// credential (empty for local adapters) and the record's config map.
	Build(name string, credential string, config map[string]string) (ModelProvider, error)
}

// MultiModelFactory is implemented by family adapters where a single
// credential drives multiple model keys (spec §4.6 "Multimodal-remote
// adapter (family)"). add_credential fans the credential out to
// FamilyModels() keyed as "<family>-<model>".
type MultiModelFactory interface {
	Factory
	FamilyModels() []string
}

// LocalDiscoveryFactory is implemented by local adapters that have no
// credential and instead discover available models from a local
// endpoint at startup (spec §4.6 "Local adapter").
type LocalDiscoveryFactory interface {
	Factory
	// Discover returns the model names currently available from the
	// local endpoint. Each becomes its own provider key
	// "<family>-<model>".
	Discover() ([]string, error)
}

var (
	factoriesMu sync.RWMutex
	factories   = map[string]Factory{}
)

// RegisterFactory registers f under its Family() key. Panics on a
// duplicate family, matching the ai package's MustRegister idiom — this
// is only ever called from package init().
func RegisterFactory(f Factory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()

	family := f.Family()
	if family == "" {
		panic("provider: factory Family() must not be empty")
	}
	if _, exists := factories[family]; exists {
		panic(fmt.Sprintf("provider: factory for family %q already registered", family))
	}
	factories[family] = f
}

func getFactory(family string) (Factory, bool) {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	f, ok := factories[family]
	return f, ok
}

// ListFactories returns the registered family keys, sorted for
// deterministic iteration (e.g. in startup_load logging).
func ListFactories() []string {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
