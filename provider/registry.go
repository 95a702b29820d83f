package provider

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/learnobot/mediation/core"
	"github.com/learnobot/mediation/internal/crypto"
)

// View is the public shape returned by List/ListActive (spec §4.5
// `list(): [ProviderView]`).
type View struct {
	Name           string
	Kind           Kind
	Model          string
	Active         bool
	Default        bool
	SupportsVision bool
}

// Registry owns the truth about which providers exist, whether they are
// usable, and their credentials (C5). It serializes mutating operations
// behind an exclusive lock and read operations behind a shared lock, per
// spec §5 "ProviderRegistry locking", and always commits to the durable
// store before updating the in-memory map.
type Registry struct {
	mu sync.RWMutex

	store   RecordStore
	crypto  *crypto.Service
	logger  core.Logger
	live    map[string]ModelProvider
	defaultName string // default provider key, empty if none elected
}

// NewRegistry constructs a Registry over the given durable store and
// credential encryption service.
func NewRegistry(store RecordStore, svc *crypto.Service, logger core.Logger) *Registry {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &Registry{
		store:  store,
		crypto: svc,
		logger: logger,
		live:   make(map[string]ModelProvider),
	}
}

func resolveFactory(name string) (Factory, bool) {
	if f, ok := getFactory(name); ok {
		return f, true
	}
	if idx := strings.IndexByte(name, '-'); idx > 0 {
		if f, ok := getFactory(name[:idx]); ok {
			return f, true
		}
	}
	return nil, false
}

// StartupLoad reads every registry record, decrypts usable credentials,
// and constructs live provider instances. Deactivated or credential-less
// (for remote kinds) records are skipped; records whose credential fails
// to decrypt are logged and skipped, not fatal (spec §4.5).
func (r *Registry) StartupLoad(ctx context.Context) error {
	records, err := r.store.List(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", core.ErrStateStore, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, rec := range records {
		if rec.Deactivated {
			continue
		}
		if rec.Kind != Local && len(rec.EncryptedCredential) == 0 {
			continue
		}
		inst, err := r.instantiate(rec)
		if err != nil {
			r.logger.Error("skipping provider on startup_load", map[string]interface{}{
				"provider": rec.Name,
				"error":    err.Error(),
			})
			continue
		}
		r.live[rec.Name] = inst
	}
	r.electDefaultLocked()
	return nil
}

func (r *Registry) instantiate(rec *Record) (ModelProvider, error) {
	factory, ok := resolveFactory(rec.Name)
	if !ok {
		return nil, fmt.Errorf("no factory registered for provider %q", rec.Name)
	}
	var plaintext string
	if len(rec.EncryptedCredential) > 0 {
		decrypted, err := r.crypto.Decrypt(rec.EncryptedCredential)
		if err != nil {
			return nil, fmt.Errorf("decrypt credential: %w", err)
		}
		plaintext = string(decrypted)
	}
	return factory.Build(rec.Name, plaintext, rec.Config)
}

// BootstrapFromConfig consults, for each provider family key present in
// cfg (family -> plaintext credential), the registry's precedence rules
// (spec §4.5, strict order):
//   - no registry record present           -> initialize from cfg, insert a row
//   - record present with usable credential -> ignore cfg
//   - record present but deactivated/no cred -> ignore cfg AND clear the
//     key from cfg so it cannot leak via another path
//
// cfg is mutated in place to reflect the third case.
func (r *Registry) BootstrapFromConfig(ctx context.Context, cfg map[string]string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for name, plaintext := range cfg {
		rec, found, err := r.store.Get(ctx, name)
		if err != nil {
			return fmt.Errorf("%w: %v", core.ErrStateStore, err)
		}

		if !found {
			factory, ok := resolveFactory(name)
			if !ok {
				continue
			}
			if err := r.addCredentialLocked(ctx, name, factory, plaintext, nil); err != nil {
				r.logger.Error("bootstrap_from_config failed to initialize provider", map[string]interface{}{
					"provider": name, "error": err.Error(),
				})
			}
			continue
		}

		if rec.Deactivated || len(rec.EncryptedCredential) == 0 {
			delete(cfg, name)
			continue
		}
		// Registry record present with a usable credential: ignore cfg,
		// and make sure the in-memory instance reflects the registry
		// (it already does if StartupLoad ran first).
	}
	return nil
}

// AddCredential encrypts and persists a credential for providerName. For
// a multi-model family, all family members are written and instantiated
// (spec §4.5's Google fan-out, re-synchronized on every call per
// SPEC_FULL.md's supplemented-feature #1).
func (r *Registry) AddCredential(ctx context.Context, providerName, plaintext string) error {
	factory, ok := resolveFactory(providerName)
	if !ok {
		return fmt.Errorf("%w: no factory for %q", core.ErrProviderNotFound, providerName)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.addCredentialLocked(ctx, providerName, factory, plaintext, nil)
}

func (r *Registry) addCredentialLocked(ctx context.Context, providerName string, factory Factory, plaintext string, config map[string]string) error {
	names := []string{providerName}
	if mm, ok := factory.(MultiModelFactory); ok {
		family := factory.Family()
		names = names[:0]
		for _, model := range mm.FamilyModels() {
			names = append(names, family+"-"+model)
		}
	}

	encrypted, err := r.crypto.Encrypt([]byte(plaintext))
	if err != nil {
		return fmt.Errorf("encrypt credential: %w", err)
	}
	if r.crypto.Insecure() {
		r.logger.Warn("storing provider credential without encryption: no key configured", map[string]interface{}{
			"provider": providerName,
		})
	}

	for _, name := range names {
		rec := &Record{
			Name:                name,
			Kind:                factory.Kind(),
			EncryptedCredential: encrypted,
			Active:              true,
			Deactivated:         false,
			Config:              config,
		}
		if err := r.store.Upsert(ctx, rec); err != nil {
			return fmt.Errorf("%w: %v", core.ErrStateStore, err)
		}
		inst, err := factory.Build(name, plaintext, config)
		if err != nil {
			r.logger.Error("failed to initialize provider instance", map[string]interface{}{
				"provider": name, "error": err.Error(),
			})
			continue
		}
		r.live[name] = inst
	}
	r.electDefaultLocked()
	return nil
}

// RemoveCredential clears a provider's credential, tombstones the row
// (active=false, deactivated=true — the row is retained so P2/P4 keep
// behaving correctly on restart), drops the in-memory instance, and
// re-elects a default if the removed provider was it.
func (r *Registry) RemoveCredential(ctx context.Context, providerName string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, found, err := r.store.Get(ctx, providerName)
	if err != nil {
		return fmt.Errorf("%w: %v", core.ErrStateStore, err)
	}
	if !found {
		return fmt.Errorf("%w: %s", core.ErrProviderNotFound, providerName)
	}

	rec.EncryptedCredential = nil
	rec.Active = false
	rec.Deactivated = true
	if err := r.store.Upsert(ctx, rec); err != nil {
		return fmt.Errorf("%w: %v", core.ErrStateStore, err)
	}

	delete(r.live, providerName)
	if r.defaultName == providerName {
		r.defaultName = ""
	}
	r.electDefaultLocked()
	return nil
}

// electDefaultLocked picks an arbitrary-but-stable (lexicographically
// first) non-deactivated live instance as default when none is currently
// elected. Must be called with r.mu held.
func (r *Registry) electDefaultLocked() {
	if r.defaultName != "" {
		if _, ok := r.live[r.defaultName]; ok {
			return
		}
		r.defaultName = ""
	}
	var best string
	for name := range r.live {
		if best == "" || name < best {
			best = name
		}
	}
	r.defaultName = best
}

// Get returns the live instance for name, honoring preferred-provider
// resolution: callers check Active via List/ListActive first if they
// need that distinction. Get only reports presence in the live map,
// which by construction excludes deactivated/credential-less providers.
func (r *Registry) Get(name string) (ModelProvider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.live[name]
	return p, ok
}

// Default returns the current default provider and whether one is
// elected.
func (r *Registry) Default() (ModelProvider, string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.defaultName == "" {
		return nil, "", false
	}
	p, ok := r.live[r.defaultName]
	return p, r.defaultName, ok
}

// List returns every provider the durable store knows about, including
// tombstoned ones (spec §4.5/§6 admin visibility: a removed credential
// still needs to show up as Active: false so an operator can tell it was
// deliberately deactivated rather than never configured, per P4's
// retain-the-row rule). ListActive returns only the dispatch-safe subset.
func (r *Registry) List(ctx context.Context) ([]View, error) {
	records, err := r.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrStateStore, err)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]View, 0, len(records))
	for _, rec := range records {
		view := View{
			Name:    rec.Name,
			Kind:    rec.Kind,
			Active:  !rec.Deactivated,
			Default: rec.Name == r.defaultName,
		}
		if p, ok := r.live[rec.Name]; ok {
			info := p.Info()
			view.Model = info.Model
			view.SupportsVision = info.SupportsVision
		}
		out = append(out, view)
	}
	return out, nil
}

// ListActive returns only the live, dispatch-safe providers (r.live by
// construction never holds a deactivated or credential-less row).
func (r *Registry) ListActive() []View {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.viewsLocked()
}

func (r *Registry) viewsLocked() []View {
	out := make([]View, 0, len(r.live))
	for name, p := range r.live {
		info := p.Info()
		out = append(out, View{
			Name:           name,
			Kind:           info.Kind,
			Model:          info.Model,
			Active:         true,
			Default:        name == r.defaultName,
			SupportsVision: info.SupportsVision,
		})
	}
	return out
}
