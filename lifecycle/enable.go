package lifecycle

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-lynx/pluginhost/internal/hostlog"
	"github.com/go-lynx/pluginhost/loader"
	"github.com/go-lynx/pluginhost/manifest"
	"github.com/go-lynx/pluginhost/plugins"
	"github.com/go-lynx/pluginhost/registry"
)

// Enable loads id's native module, runs its initializer under the
// plugin_init timeout, wires it into the sandbox governor, and flips its
// status to Enabled. Requires the current status to be Disabled or
// PendingRestart.
func (e *Engine) Enable(ctx context.Context, id string) error {
	e.locks.Lock(id)
	defer e.locks.Unlock(id)
	return e.enableLocked(ctx, id)
}

func (e *Engine) enableLocked(ctx context.Context, id string) error {
	rec, ok := e.registry.Get(id)
	if !ok {
		return plugins.NewPluginErrorWithCode(plugins.ErrorCodeNotFound, id, "enable", "no installed record", nil)
	}
	if rec.Status != registry.StatusDisabled && rec.Status != registry.StatusPendingRestart {
		if rec.Status == registry.StatusEnabled {
			return plugins.NewPluginErrorWithCode(plugins.ErrorCodeAlreadyEnabled, id, "enable", "plugin already enabled", nil)
		}
		return plugins.NewPluginErrorWithCode(plugins.ErrorCodeManifestInvalid, id, "enable", fmt.Sprintf("cannot enable from status %s", rec.Status), nil)
	}

	m, caps, err := parseAndValidateManifest(manifestPathFor(rec.InstallPath), e.cfg.HostAPIVersion)
	if err != nil {
		return e.failEnable(id, rec, err)
	}

	reason := "enable: plugin requests its declared capabilities"
	granted, err := e.broker.Request(ctx, id, caps, reason)
	if err != nil {
		return e.failEnable(id, rec, err)
	}
	for k, d := range granted {
		e.emit(plugins.EventPermissionGranted, id, string(rec.Status), map[string]any{"capability": string(k), "scope": d.String()})
	}
	if denied := caps.Diff(granted); len(denied) > 0 {
		for k := range denied {
			e.emit(plugins.EventPermissionDenied, id, string(rec.Status), map[string]any{"capability": string(k)})
		}
	}

	e.emit(plugins.EventPluginInitializing, id, string(rec.Status), nil)

	var handle *loader.Handle
	linkErr := e.withBlockingPool(ctx, func() error {
		h, err := e.loader.Link(rec.EntryPath)
		if err != nil {
			return err
		}
		handle = h
		return nil
	})
	if linkErr != nil {
		return e.failEnable(id, rec, linkErr)
	}

	lm := &loadedModule{handle: handle, callbacks: make(map[string]uintptr)}
	lm.ctx = loader.NewHostContext(
		apiVersionFor(m),
		nil,
		lm.registerCallback,
		hostLogFunc(id),
	)

	initResult, err := e.runInitWithTimeout(handle, lm.ctx)
	if err != nil || initResult != loader.ResultOK {
		// Tear down whatever the plugin partially initialized before
		// marking the record Errored.
		_, _ = e.loader.Teardown(handle, lm.ctx)
		_ = e.loader.Release(handle)
		if err == nil {
			err = initResult
		}
		return e.failEnable(id, rec, plugins.NewPluginErrorWithCode(plugins.ErrorCodeInitFailed, id, "enable", err.Error(), err))
	}

	e.emit(plugins.EventPluginInitialized, id, string(rec.Status), nil)
	e.emit(plugins.EventPluginStarting, id, string(rec.Status), nil)

	if e.governor != nil {
		limits := e.cfg.DefaultLimits
		if err := e.governor.Enable(id, int32(currentPID()), limits); err != nil {
			_, _ = e.loader.Teardown(handle, lm.ctx)
			_ = e.loader.Release(handle)
			return e.failEnable(id, rec, err)
		}
	}

	e.handlesMu.Lock()
	e.handles[id] = lm
	e.handlesMu.Unlock()

	rec.Status = registry.StatusEnabled
	rec.Reason = ""
	rec.GrantedPermissions = capabilityKinds(granted)
	if err := e.registry.Put(id, rec); err != nil {
		return err
	}

	e.emit(plugins.EventPluginStarted, id, string(rec.Status), nil)
	e.emit(plugins.EventPluginStatusChanged, id, string(rec.Status), nil)
	return nil
}

// failEnable marks the record Errored with cause; the caller has already
// unwound whatever it opened, in reverse order.
func (e *Engine) failEnable(id string, rec registry.Record, cause error) error {
	rec.Status = registry.StatusErrored
	rec.Reason = plugins.FormatErrorForUser(cause)
	if pe := plugins.GetPluginError(cause); pe != nil && pe.Code != "" {
		rec.Reason = string(pe.Code) + ": " + rec.Reason
	}
	_ = e.registry.Put(id, rec)
	e.emitErr(plugins.EventPluginStatusChanged, id, string(rec.Status), cause)
	return cause
}

// runInitWithTimeout calls plugin_init on a goroutine and races it against
// the configured init timeout, recovering a panicking module into an error
// instead of taking the host down.
func (e *Engine) runInitWithTimeout(handle *loader.Handle, hctx *loader.HostContext) (loader.InitResult, error) {
	type outcome struct {
		res loader.InitResult
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{res: loader.ResultUnspecified, err: fmt.Errorf("panic in plugin_init: %v", r)}
			}
		}()
		res, err := e.loader.Init(handle, hctx)
		done <- outcome{res: res, err: err}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.InitTimeout)
	defer cancel()
	select {
	case o := <-done:
		return o.res, o.err
	case <-ctx.Done():
		return loader.ResultUnspecified, context.DeadlineExceeded
	}
}

// withBlockingPool runs fn on the dedicated blocking executor when one is
// configured; falls back to running inline so tests without a pool still
// work.
func (e *Engine) withBlockingPool(ctx context.Context, fn func() error) error {
	if e.pool == nil {
		return fn()
	}
	return e.pool.Submit(ctx, fn)
}

// Disable invokes id's teardown, releases its module handle, tears down its
// sandbox container, and flips status to Disabled. Requires status =
// Enabled. A plugin that doesn't return from teardown within
// DefaultTeardownTimeout is force-terminated via the governor; disable
// still completes.
func (e *Engine) Disable(ctx context.Context, id string) error {
	e.locks.Lock(id)
	defer e.locks.Unlock(id)
	return e.disableLocked(ctx, id)
}

func (e *Engine) disableLocked(ctx context.Context, id string) error {
	rec, ok := e.registry.Get(id)
	if !ok {
		return plugins.NewPluginErrorWithCode(plugins.ErrorCodeNotFound, id, "disable", "no installed record", nil)
	}
	if rec.Status != registry.StatusEnabled {
		return plugins.NewPluginErrorWithCode(plugins.ErrorCodeAlreadyDisabled, id, "disable", "plugin is not enabled", nil)
	}

	e.emit(plugins.EventPluginStopping, id, string(rec.Status), nil)

	e.handlesMu.Lock()
	lm := e.handles[id]
	delete(e.handles, id)
	e.handlesMu.Unlock()

	if lm != nil {
		if err := e.teardownWithTimeout(id, lm); err != nil {
			hostlog.Warnf("plugin %s teardown escalated to termination: %v", id, err)
		}
		_ = e.loader.Release(lm.handle)
	}

	if e.governor != nil {
		if err := e.governor.Disable(id); err != nil {
			hostlog.Warnf("plugin %s sandbox teardown failed: %v", id, err)
		}
	}

	rec.Status = registry.StatusDisabled
	rec.Reason = ""
	if err := e.registry.Put(id, rec); err != nil {
		return err
	}

	e.emit(plugins.EventPluginStopped, id, string(rec.Status), nil)
	e.emit(plugins.EventPluginStatusChanged, id, string(rec.Status), nil)
	return nil
}

// teardownWithTimeout races plugin_teardown against the configured
// teardown timeout; on timeout it escalates to governor.Terminate and
// returns an error. The disable operation still completes either way — a
// record is never left Enabled after the operator asked to disable it.
func (e *Engine) teardownWithTimeout(id string, lm *loadedModule) error {
	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic in plugin_teardown: %v", r)
			}
		}()
		_, err := e.loader.Teardown(lm.handle, lm.ctx)
		done <- err
	}()

	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.TeardownTimeout)
	defer cancel()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		if e.governor != nil {
			_ = e.governor.Terminate(id)
		}
		return plugins.NewPluginErrorWithCode(plugins.ErrorCodeTeardownTimeout, id, "disable", "plugin_teardown did not return in time", context.DeadlineExceeded)
	}
}

// Trigger invokes the named callback a plugin previously registered during
// plugin_init, for the UI collaborator's event-dispatch path. Snapshot-then-
// invoke: the callback map is read under lock but the call itself happens
// outside it, so a concurrent Disable's teardown never races the map being
// mutated mid-invocation.
func (e *Engine) Trigger(name string, id string) (loader.InitResult, error) {
	e.handlesMu.Lock()
	lm, ok := e.handles[id]
	e.handlesMu.Unlock()
	if !ok {
		return loader.ResultUnspecified, plugins.NewPluginErrorWithCode(plugins.ErrorCodeNotFound, id, "trigger", "plugin not enabled", nil)
	}
	lm.mu.Lock()
	fn, ok := lm.callbacks[name]
	lm.mu.Unlock()
	if !ok {
		return loader.ResultUnspecified, plugins.NewPluginErrorWithCode(plugins.ErrorCodeNotFound, id, "trigger", "no callback registered for "+name, nil)
	}
	return e.loader.InvokeCallback(fn, lm.ctx.HostOpaque)
}

func currentPID() int {
	return os.Getpid()
}

var hostLogLevelNames = map[int32]string{0: "debug", 1: "info", 2: "warn", 3: "error"}

// hostLogFunc returns the LogFunc threaded into a plugin's HostContext,
// routed through the daemon's own structured logger so plugin log lines
// carry the same caller/run-id attribution as host log lines.
func hostLogFunc(pluginID string) loader.LogFunc {
	return func(level int32, message string) {
		hostlog.Infow("plugin_id", pluginID, "level", hostLogLevelNames[level], "message", message)
	}
}

// apiVersionFor parses the manifest's declared api_version for the
// HostContext record; Validate already confirmed it parses cleanly.
func apiVersionFor(m *manifest.Manifest) *plugins.Version {
	v, _ := plugins.ParseVersion(m.APIVersion)
	return v
}

// manifestPathFor locates the manifest file inside an install directory.
// Install lays it down under one of these three names per archive.Extract's
// ManifestPath discovery; re-derive the same choice here since the registry
// record only stores the install directory, not the manifest's exact name.
func manifestPathFor(installDir string) string {
	for _, name := range []string{"manifest.yaml", "manifest.yml", "manifest.json"} {
		p := filepath.Join(installDir, name)
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return filepath.Join(installDir, "manifest.yaml")
}
