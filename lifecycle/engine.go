// Package lifecycle coordinates every multi-step plugin operation —
// install, enable, disable, update, uninstall — so that observable state
// (filesystem layout + registry + active loads + granted permissions) stays
// consistent under success, failure, and concurrent requests. It is the
// sole writer of the registry and the only component that touches the
// loader, permission broker, and sandbox governor together.
package lifecycle

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"sync"
	"time"

	"github.com/go-lynx/pluginhost/capability"
	"github.com/go-lynx/pluginhost/internal/blockingpool"
	"github.com/go-lynx/pluginhost/internal/keyedmu"
	"github.com/go-lynx/pluginhost/loader"
	"github.com/go-lynx/pluginhost/manifest"
	"github.com/go-lynx/pluginhost/permission"
	"github.com/go-lynx/pluginhost/plugins"
	"github.com/go-lynx/pluginhost/registry"
	"github.com/go-lynx/pluginhost/sandbox"
	"github.com/go-lynx/pluginhost/signature"
)

// Default bounds for the engine's guarded operations.
const (
	DefaultInitTimeout     = 10 * time.Second
	DefaultTeardownTimeout = 5 * time.Second
	DefaultNetworkTimeout  = 30 * time.Second
)

// Config bundles the policy knobs an Engine needs. Every field is set
// explicitly at host startup and threaded in; there is no ambient default
// an Engine reaches for implicitly.
type Config struct {
	StateDir        string
	HostAPIVersion  *plugins.Version
	TrustLevel      signature.TrustLevel
	StoreBaseURL    string
	NetworkTimeout  time.Duration
	InitTimeout     time.Duration
	TeardownTimeout time.Duration
	InProcess       bool // development-only: link modules into the host process.
	DefaultLimits   []sandbox.LimitRecord
}

// Engine coordinates install, enable, disable, update, and uninstall for
// every plugin, and owns all registry writes.
type Engine struct {
	cfg Config

	registry   *registry.Store
	broker     *permission.Broker
	trustStore *signature.TrustStore
	loader     *loader.Loader
	governor   *sandbox.Governor
	emitter    plugins.EventEmitter
	fetcher    *fetcher

	locks *keyedmu.Map
	pool  *blockingpool.Pool

	handlesMu sync.Mutex
	handles   map[string]*loadedModule
}

// loadedModule is the in-memory state for a currently Enabled plugin: its
// loader handle, the HostContext it was initialized with, and the callback
// table it populated via RegisterCallback during plugin_init.
type loadedModule struct {
	handle *loader.Handle
	ctx    *loader.HostContext

	mu        sync.Mutex
	callbacks map[string]uintptr
}

// registerCallback is threaded into a plugin's HostContext as
// RegisterCallback; it's called synchronously from within plugin_init, so
// the mutex only guards against a concurrent Trigger reading the map.
func (lm *loadedModule) registerCallback(name string, fn uintptr) loader.InitResult {
	lm.mu.Lock()
	lm.callbacks[name] = fn
	lm.mu.Unlock()
	return loader.ResultOK
}

// NewEngine wires an Engine from its already-constructed collaborators:
// the durable registry, permission broker, signature trust store, sandbox
// governor, and event emitter. pool runs module linking off the
// context-cancellable paths.
func NewEngine(cfg Config, reg *registry.Store, broker *permission.Broker, trustStore *signature.TrustStore, gov *sandbox.Governor, emitter plugins.EventEmitter, pool *blockingpool.Pool) *Engine {
	if cfg.NetworkTimeout <= 0 {
		cfg.NetworkTimeout = DefaultNetworkTimeout
	}
	if cfg.InitTimeout <= 0 {
		cfg.InitTimeout = DefaultInitTimeout
	}
	if cfg.TeardownTimeout <= 0 {
		cfg.TeardownTimeout = DefaultTeardownTimeout
	}
	return &Engine{
		cfg:        cfg,
		registry:   reg,
		broker:     broker,
		trustStore: trustStore,
		loader:     loader.New(),
		governor:   gov,
		emitter:    emitter,
		fetcher:    newFetcher(cfg.StoreBaseURL, stagingRootOf(cfg.StateDir), cfg.NetworkTimeout),
		locks:      keyedmu.New(),
		pool:       pool,
		handles:    make(map[string]*loadedModule),
	}
}

// Get returns a copy of id's installed-plugin record.
func (e *Engine) Get(id string) (registry.Record, bool) {
	return e.registry.Get(id)
}

// List returns every installed-plugin record.
func (e *Engine) List() []registry.Record {
	return e.registry.List()
}

// ListEnabled returns every record whose status is Enabled.
func (e *Engine) ListEnabled() []registry.Record {
	return e.registry.ListByStatus(registry.StatusEnabled)
}

// ListDisabled returns every record whose status is Disabled.
func (e *Engine) ListDisabled() []registry.Record {
	return e.registry.ListByStatus(registry.StatusDisabled)
}

func (e *Engine) emit(eventType plugins.EventType, pluginID, status string, metadata map[string]any) {
	if e.emitter == nil {
		return
	}
	e.emitter.EmitEvent(plugins.PluginEvent{
		Type:      eventType,
		Priority:  plugins.PriorityNormal,
		PluginID:  pluginID,
		Source:    "lifecycle",
		Status:    status,
		Metadata:  metadata,
		Timestamp: time.Now().UnixNano(),
	})
}

func (e *Engine) emitErr(eventType plugins.EventType, pluginID, status string, err error) {
	if e.emitter == nil {
		return
	}
	e.emitter.EmitEvent(plugins.PluginEvent{
		Type:      eventType,
		Priority:  plugins.PriorityHigh,
		PluginID:  pluginID,
		Source:    "lifecycle",
		Status:    status,
		Err:       err,
		Timestamp: time.Now().UnixNano(),
	})
}

func (e *Engine) installDir(id string) string {
	return registry.InstallDir(e.cfg.StateDir, id)
}

// fingerprintOf returns a stable hex digest of the archive bytes, stored on
// the installed-plugin record as signature_fingerprint.
func fingerprintOf(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// parseAndValidateManifest is a small convenience wrapper so install/update
// can share the manifest-parse-then-validate-then-decode sequence.
func parseAndValidateManifest(manifestPath string, hostAPIVersion *plugins.Version) (*manifest.Manifest, capability.Set, error) {
	data, err := os.ReadFile(manifestPath)
	if err != nil {
		return nil, nil, plugins.NewPluginErrorWithCode(plugins.ErrorCodeArchiveMalformed, "", "parse_manifest", err.Error(), err)
	}
	m, err := manifest.Parse(data)
	if err != nil {
		return nil, nil, err
	}
	if err := m.Validate(hostAPIVersion); err != nil {
		return nil, nil, err
	}
	caps, err := m.Capabilities()
	if err != nil {
		return nil, nil, err
	}
	return m, caps, nil
}

// capabilityKinds renders a capability.Set as the []string the registry
// record's granted_permissions field persists.
func capabilityKinds(set capability.Set) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, string(k))
	}
	return out
}
