package lifecycle

import (
	"context"
	"os"

	"github.com/go-lynx/pluginhost/plugins"
	"github.com/go-lynx/pluginhost/registry"
)

// Uninstall disables id if it is currently Enabled, then deletes its
// install directory, registry record, and permission grants. Uninstall is
// itself idempotent against a half-finished prior attempt: a missing
// install directory past the disable step is not an error.
func (e *Engine) Uninstall(ctx context.Context, id string) error {
	e.locks.Lock(id)
	defer e.locks.Unlock(id)

	rec, ok := e.registry.Get(id)
	if !ok {
		return plugins.NewPluginErrorWithCode(plugins.ErrorCodeNotFound, id, "uninstall", "no installed record", nil)
	}

	if rec.Status == registry.StatusEnabled {
		if err := e.disableLocked(ctx, id); err != nil {
			return err
		}
	}

	if rec.InstallPath != "" {
		if err := os.RemoveAll(rec.InstallPath); err != nil {
			return plugins.NewPluginErrorWithCode(plugins.ErrorCodeIoError, id, "uninstall", err.Error(), err)
		}
	}

	if err := e.broker.Purge(id); err != nil {
		return err
	}

	if err := e.registry.Delete(id); err != nil {
		return err
	}

	e.emit(plugins.EventPluginUninstalled, id, "", nil)
	return nil
}
