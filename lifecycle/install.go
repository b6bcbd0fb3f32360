package lifecycle

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/go-lynx/pluginhost/archive"
	"github.com/go-lynx/pluginhost/capability"
	"github.com/go-lynx/pluginhost/internal/hostlog"
	"github.com/go-lynx/pluginhost/plugins"
	"github.com/go-lynx/pluginhost/registry"
	"github.com/go-lynx/pluginhost/signature"
)

// Install fetches src, verifies its signature, validates its manifest and
// requested capabilities, and lays it down as a new Disabled installation.
// autoEnable immediately enables the freshly installed plugin once the
// record is committed. Returns ErrorCodeAlreadyInstalled if id already has a
// record — use Update for an existing plugin.
func (e *Engine) Install(ctx context.Context, src Source, autoEnable bool) (*registry.Record, error) {
	return e.installOrUpdate(ctx, src, "", autoEnable)
}

// Update re-runs the install pipeline against id's current or overridden
// source, requiring the fetched manifest's version to be strictly greater
// than what's installed. New capabilities the manifest declares are
// re-prompted; capabilities it no longer declares are revoked silently.
func (e *Engine) Update(ctx context.Context, id string, src *Source) (*registry.Record, error) {
	rec, ok := e.registry.Get(id)
	if !ok {
		return nil, plugins.NewPluginErrorWithCode(plugins.ErrorCodeNotFound, id, "update", "no installed record", nil)
	}
	resolvedSrc := src
	if resolvedSrc == nil {
		parsed, err := ParseSource(rec.SourceDescriptor)
		if err != nil {
			return nil, err
		}
		resolvedSrc = &parsed
	}
	return e.installOrUpdate(ctx, *resolvedSrc, id, false)
}

// installOrUpdate is the shared pipeline behind Install and Update:
// fetch -> verify signature -> extract to staging -> parse+validate
// manifest -> broker-validate permissions -> commit (new install: atomic
// rename into place; update: move-aside-then-rename with rollback on
// failure) -> persist to the registry. expectedID is empty for a fresh
// Install, or the plugin id being updated.
func (e *Engine) installOrUpdate(ctx context.Context, src Source, expectedID string, autoEnable bool) (*registry.Record, error) {
	isUpdate := expectedID != ""

	archivePath, err := e.fetcher.Resolve(ctx, src)
	if err != nil {
		return nil, err
	}
	payload, err := os.ReadFile(archivePath)
	if err != nil {
		return nil, plugins.NewPluginErrorWithCode(plugins.ErrorCodeIoError, expectedID, "install", err.Error(), err)
	}

	if err := e.verifySignature(archivePath, payload); err != nil {
		return nil, err
	}

	res, err := archive.Extract(archivePath, stagingRootOf(e.cfg.StateDir))
	if err != nil {
		return nil, err
	}
	staged := true
	defer func() {
		if staged {
			os.RemoveAll(res.StagingDir)
		}
	}()

	m, caps, err := parseAndValidateManifest(res.ManifestPath, e.cfg.HostAPIVersion)
	if err != nil {
		return nil, err
	}
	if isUpdate && m.ID != expectedID {
		return nil, plugins.NewPluginErrorWithCode(plugins.ErrorCodeManifestInvalid, expectedID, "update", "fetched archive's id does not match the plugin being updated", nil)
	}

	entryStaged := filepath.Join(res.StagingDir, filepath.FromSlash(m.Entry))
	if _, err := os.Stat(entryStaged); err != nil {
		return nil, plugins.NewPluginErrorWithCode(plugins.ErrorCodeArchiveMalformed, m.ID, "install", "manifest entry not found in archive", err)
	}

	e.locks.Lock(m.ID)
	defer e.locks.Unlock(m.ID)

	existing, exists := e.registry.Get(m.ID)
	if !isUpdate && exists {
		return nil, plugins.NewPluginErrorWithCode(plugins.ErrorCodeAlreadyInstalled, m.ID, "install", "plugin already installed", nil)
	}
	if isUpdate && !exists {
		return nil, plugins.NewPluginErrorWithCode(plugins.ErrorCodeNotFound, m.ID, "update", "no installed record", nil)
	}

	if err := e.broker.Validate(caps); err != nil {
		return nil, err
	}

	if isUpdate {
		newV, err := plugins.ParseVersion(m.Version)
		if err != nil {
			return nil, plugins.NewPluginErrorWithCode(plugins.ErrorCodeManifestInvalid, m.ID, "update", err.Error(), err)
		}
		oldV, err := plugins.ParseVersion(existing.Version)
		if err != nil {
			return nil, plugins.NewPluginErrorWithCode(plugins.ErrorCodeRegistryCorrupt, m.ID, "update", err.Error(), err)
		}
		if plugins.CompareVersions(newV, oldV) <= 0 {
			return nil, plugins.NewPluginErrorWithCode(plugins.ErrorCodeNoUpdateAvailable, m.ID, "update", "requested version is not newer than installed", nil)
		}
	}

	wasEnabled := isUpdate && existing.Status == registry.StatusEnabled
	if wasEnabled {
		if err := e.disableLocked(ctx, m.ID); err != nil {
			return nil, err
		}
	}

	installDir := e.installDir(m.ID)
	if err := os.MkdirAll(filepath.Dir(installDir), 0o755); err != nil {
		return nil, err
	}

	backupDir := installDir + ".old"
	if !isUpdate {
		if err := os.Rename(res.StagingDir, installDir); err != nil {
			return nil, plugins.NewPluginErrorWithCode(plugins.ErrorCodeIoError, m.ID, "install", err.Error(), err)
		}
		staged = false
	} else {
		os.RemoveAll(backupDir)
		if err := os.Rename(installDir, backupDir); err != nil {
			return nil, plugins.NewPluginErrorWithCode(plugins.ErrorCodeIoError, m.ID, "update", err.Error(), err)
		}
		if err := os.Rename(res.StagingDir, installDir); err != nil {
			// Roll back: the old version's directory is restored so the
			// plugin is left exactly as it was before the failed update.
			os.Rename(backupDir, installDir)
			return nil, plugins.NewPluginErrorWithCode(plugins.ErrorCodeIoError, m.ID, "update", err.Error(), err)
		}
		staged = false
	}

	now := time.Now()
	rec := registry.Record{
		ID:                   m.ID,
		Version:              m.Version,
		InstallPath:          installDir,
		EntryPath:            filepath.Join(installDir, filepath.FromSlash(m.Entry)),
		Status:               registry.StatusDisabled,
		SourceDescriptor:     src.String(),
		SignatureFingerprint: fingerprintOf(payload),
	}

	if isUpdate {
		rec.InstalledAt = existing.InstalledAt
		rec.UpdatedAt = &now
		rec.GrantedPermissions = e.reconcilePermissions(ctx, m.ID, existing.GrantedPermissions, caps)
	} else {
		rec.InstalledAt = now
	}

	if err := e.registry.Put(m.ID, rec); err != nil {
		// The registry commit is the pipeline's commit point. Undo the
		// rename so the filesystem matches the record that still stands.
		os.RemoveAll(installDir)
		if isUpdate {
			os.Rename(backupDir, installDir)
		}
		return nil, err
	}
	if isUpdate {
		os.RemoveAll(backupDir)
	}

	if isUpdate {
		e.emit(plugins.EventPluginUpdated, m.ID, string(rec.Status), map[string]any{"version": m.Version})
	} else {
		e.emit(plugins.EventPluginInstalled, m.ID, string(rec.Status), map[string]any{"version": m.Version})
	}

	if autoEnable || wasEnabled {
		if err := e.enableLocked(ctx, m.ID); err != nil {
			return &rec, err
		}
		rec, _ = e.registry.Get(m.ID)
	}

	return &rec, nil
}

// verifySignature hashes and verifies payload against its sidecar envelope
// (if any), applying the engine's configured trust level to the outcome.
// A missing envelope is treated as Invalid, so TrustNone is the only level
// under which an unsigned archive proceeds.
func (e *Engine) verifySignature(archivePath string, payload []byte) error {
	env, ok, err := signature.LoadEnvelope(archivePath)
	if err != nil {
		return plugins.NewPluginErrorWithCode(plugins.ErrorCodeSignatureInvalid, "", "verify", err.Error(), err)
	}
	var outcome signature.Outcome
	if !ok {
		outcome = signature.Invalid
	} else {
		outcome, err = e.trustStore.Verify(payload, env)
		if err != nil {
			return plugins.NewPluginErrorWithCode(plugins.ErrorCodeSignatureInvalid, "", "verify", err.Error(), err)
		}
	}
	if err := signature.Decide(e.cfg.TrustLevel, outcome); err != nil {
		return err
	}
	if outcome != signature.Valid {
		hostlog.Warnf("accepting archive %s with signature outcome %s under trust level %s", archivePath, outcome, e.cfg.TrustLevel)
	}
	return nil
}

// reconcilePermissions diffs an update's capability declarations:
// capabilities present before and still present need no action; capabilities
// removed from the new manifest are revoked silently; capabilities newly
// declared are re-requested through the broker. Returns the granted-kind
// list for the updated record.
func (e *Engine) reconcilePermissions(ctx context.Context, id string, previousKinds []string, newCaps capability.Set) []string {
	prev := make(map[string]bool, len(previousKinds))
	for _, k := range previousKinds {
		prev[k] = true
	}

	kept := capability.NewSet()
	var added capability.Set
	for k, d := range newCaps {
		if prev[string(k)] {
			kept.Add(d)
		} else {
			if added == nil {
				added = capability.NewSet()
			}
			added.Add(d)
		}
	}

	for k := range prev {
		if _, stillDeclared := newCaps[capability.Kind(k)]; !stillDeclared {
			_ = e.broker.Revoke(id, capability.Kind(k))
		}
	}

	granted := capabilityKinds(kept)
	if added != nil {
		newGrants, err := e.broker.Request(ctx, id, added, "update: plugin declares new capabilities")
		if err == nil {
			granted = append(granted, capabilityKinds(newGrants)...)
		}
	}
	return granted
}
