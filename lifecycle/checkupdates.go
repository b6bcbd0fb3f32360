package lifecycle

import (
	"context"
	"sync"

	"github.com/go-lynx/pluginhost/plugins"
)

// UpdateCheckResult is one installed plugin's available-version check.
type UpdateCheckResult struct {
	PluginID         string
	CurrentVersion   string
	AvailableVersion string
	UpdateAvailable  bool
	Err              error
}

// CheckUpdates queries the store for every installed plugin whose source
// is a StoreId, one goroutine per plugin since each targets a distinct
// store endpoint. Failures are isolated per plugin; one plugin's store
// failure never aborts the batch.
func (e *Engine) CheckUpdates(ctx context.Context) []UpdateCheckResult {
	records := e.registry.List()

	var wg sync.WaitGroup
	results := make([]UpdateCheckResult, len(records))
	for i, rec := range records {
		src, err := ParseSource(rec.SourceDescriptor)
		if err != nil || src.Kind != SourceStoreID {
			results[i] = UpdateCheckResult{PluginID: rec.ID, CurrentVersion: rec.Version}
			continue
		}

		wg.Add(1)
		go func(i int, rec recordView) {
			defer wg.Done()
			latest, err := e.fetcher.storeVersion(ctx, src.Value)
			res := UpdateCheckResult{PluginID: rec.id, CurrentVersion: rec.version}
			if err != nil {
				res.Err = err
				results[i] = res
				return
			}
			res.AvailableVersion = latest

			cur, curErr := plugins.ParseVersion(rec.version)
			newV, newErr := plugins.ParseVersion(latest)
			if curErr == nil && newErr == nil {
				res.UpdateAvailable = plugins.CompareVersions(newV, cur) > 0
			} else {
				res.Err = newErr
			}
			results[i] = res
		}(i, recordView{id: rec.ID, version: rec.Version})
	}
	wg.Wait()

	return results
}

// recordView is the minimal per-plugin snapshot CheckUpdates' goroutines
// close over, avoiding a data race on the loop variable.
type recordView struct {
	id      string
	version string
}
