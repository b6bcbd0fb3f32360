package lifecycle

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-lynx/pluginhost/plugins"
)

// circuitState gates outbound store calls: Closed allows calls, Open
// rejects them until a cooldown elapses, HalfOpen allows calls again and
// the next recorded result decides: a success closes the circuit, a
// failure reopens it.
type circuitState int

const (
	circuitClosed circuitState = iota
	circuitOpen
	circuitHalfOpen
)

// circuitBreaker guards outbound store/network calls so a flapping store
// endpoint doesn't retry into a pile of blocked install/update/check_updates
// calls.
type circuitBreaker struct {
	mu          sync.Mutex
	state       circuitState
	failures    int
	threshold   int
	lastFailure time.Time
	cooldown    time.Duration
}

func newCircuitBreaker(threshold int, cooldown time.Duration) *circuitBreaker {
	return &circuitBreaker{threshold: threshold, cooldown: cooldown}
}

func (cb *circuitBreaker) allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	switch cb.state {
	case circuitOpen:
		if time.Since(cb.lastFailure) >= cb.cooldown {
			cb.state = circuitHalfOpen
			return true
		}
		return false
	default:
		return true
	}
}

func (cb *circuitBreaker) record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if err != nil {
		cb.failures++
		cb.lastFailure = time.Now()
		if cb.state == circuitHalfOpen || cb.failures >= cb.threshold {
			cb.state = circuitOpen
		}
		return
	}
	cb.failures = 0
	cb.state = circuitClosed
}

// fetcher resolves a Source into a local archive file path, downloading
// over HTTP with a bounded timeout for Url/StoreId sources.
type fetcher struct {
	client       *http.Client
	storeBaseURL string
	breaker      *circuitBreaker
	downloadDir  string
}

func newFetcher(storeBaseURL, downloadDir string, timeout time.Duration) *fetcher {
	return &fetcher{
		client:       &http.Client{Timeout: timeout},
		storeBaseURL: storeBaseURL,
		breaker:      newCircuitBreaker(5, 30*time.Second),
		downloadDir:  downloadDir,
	}
}

// Resolve returns a local file path containing the archive bytes for src.
func (f *fetcher) Resolve(ctx context.Context, src Source) (string, error) {
	switch src.Kind {
	case SourceLocalArchive:
		return src.Value, nil
	case SourceURL:
		return f.download(ctx, src.Value)
	case SourceStoreID:
		return f.download(ctx, f.storeBaseURL+"/plugins/"+src.Value+"/archive")
	default:
		return "", plugins.NewPluginErrorWithCode(plugins.ErrorCodeManifestInvalid, "", "resolve_source", "unknown source kind", nil)
	}
}

func (f *fetcher) download(ctx context.Context, url string) (string, error) {
	if !f.breaker.allow() {
		return "", plugins.NewPluginErrorWithCode(plugins.ErrorCodeNetworkError, "", "download", "store circuit open, retry later", nil)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		f.breaker.record(err)
		return "", plugins.NewPluginErrorWithCode(plugins.ErrorCodeNetworkError, "", "download", err.Error(), err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		f.breaker.record(err)
		return "", plugins.NewPluginErrorWithCode(plugins.ErrorCodeNetworkError, "", "download", err.Error(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("store returned %s", resp.Status)
		f.breaker.record(err)
		return "", plugins.NewPluginErrorWithCode(plugins.ErrorCodeNetworkError, "", "download", err.Error(), err)
	}

	if err := os.MkdirAll(f.downloadDir, 0o755); err != nil {
		return "", err
	}
	out, err := os.CreateTemp(f.downloadDir, "download-*.zip")
	if err != nil {
		f.breaker.record(err)
		return "", err
	}
	defer out.Close()

	if _, err := io.Copy(out, resp.Body); err != nil {
		f.breaker.record(err)
		os.Remove(out.Name())
		return "", plugins.NewPluginErrorWithCode(plugins.ErrorCodeNetworkError, "", "download", err.Error(), err)
	}

	f.breaker.record(nil)
	return out.Name(), nil
}

// storeVersion queries the store for the latest version of a StoreId
// source's plugin, for CheckUpdates.
func (f *fetcher) storeVersion(ctx context.Context, storeID string) (string, error) {
	if !f.breaker.allow() {
		return "", plugins.NewPluginErrorWithCode(plugins.ErrorCodeNetworkError, storeID, "check_updates", "store circuit open", nil)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.storeBaseURL+"/plugins/"+storeID+"/latest-version", nil)
	if err != nil {
		return "", err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		f.breaker.record(err)
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("store returned %s", resp.Status)
		f.breaker.record(err)
		return "", err
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		f.breaker.record(err)
		return "", err
	}
	f.breaker.record(nil)
	return string(body), nil
}

func stagingRootOf(stateDir string) string {
	return filepath.Join(stateDir, "staging")
}
