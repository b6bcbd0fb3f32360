// Command pluginhostd is the plugin-host daemon: it owns the lifecycle
// engine, permission broker, sandbox governor, and native module loader,
// and exposes its command surface as newline-delimited JSON over
// stdin/stdout to an attached UI collaborator.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/go-lynx/pluginhost/capability"
	"github.com/go-lynx/pluginhost/internal/blockingpool"
	"github.com/go-lynx/pluginhost/internal/hostconfig"
	"github.com/go-lynx/pluginhost/internal/hostlog"
	"github.com/go-lynx/pluginhost/lifecycle"
	"github.com/go-lynx/pluginhost/permission"
	"github.com/go-lynx/pluginhost/plugins"
	"github.com/go-lynx/pluginhost/registry"
	"github.com/go-lynx/pluginhost/sandbox"
	"github.com/go-lynx/pluginhost/signature"
)

const (
	serviceName    = "pluginhostd"
	serviceVersion = "1.0.0"
)

var flagConf = flag.String("conf", "", "path to the bootstrap config file or directory")

func main() {
	flag.Parse()

	bc, err := hostconfig.Load(*flagConf)
	if err != nil {
		fmt.Fprintln(os.Stderr, "pluginhostd: config load:", err)
		os.Exit(1)
	}
	if bc.StateDir == "" {
		bc.StateDir = defaultStateDir()
	}

	var logOpts []hostlog.Option
	if bc.LogBufferRecords > 0 {
		logOpts = append(logOpts, hostlog.WithBufferedOutput(bc.LogBufferRecords, bc.LogFlushInterval))
	}
	hostlog.Init(serviceName, hostname(), serviceVersion, logOpts...)
	hostlog.Infow("state_dir", bc.StateDir, "in_process", bc.InProcess, "trust_level", bc.TrustLevel)

	engine, pool, reg, prompter, err := bootstrap(bc)
	if err != nil {
		hostlog.Fatalf("pluginhostd: bootstrap: %v", err)
	}
	defer pool.Close()
	defer reg.Close()

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	go func() {
		<-sigCh
		hostlog.Infof("pluginhostd: shutdown signal received")
		cancel()
	}()

	runCommandLoop(ctx, engine, prompter)
}

func defaultStateDir() string {
	base, err := os.UserConfigDir()
	if err != nil {
		base = "."
	}
	return filepath.Join(base, "pluginhostd")
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return h
}

// bootstrap wires every collaborator the lifecycle engine needs, in the
// store -> broker -> governor -> loader order the engine's lock ordering
// assumes, and returns the assembled engine plus the resources main needs
// to close on shutdown.
func bootstrap(bc hostconfig.Bootstrap) (*lifecycle.Engine, *blockingpool.Pool, *registry.Store, *permission.AsyncPrompter, error) {
	hostAPIVersion, err := plugins.ParseVersion(bc.HostAPIVersion)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("host_api_version: %w", err)
	}

	reg, err := registry.Open(filepath.Join(bc.StateDir, "registry"))
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("registry: %w", err)
	}

	bus := plugins.NewBus(4096)

	pool := blockingpool.New(4, 256)

	// Consent prompts relay through the command channel; a UI that never
	// answers leaves the broker to time the prompt out to Deny.
	prompter := permission.NewAsyncPrompter()

	broker, err := permission.NewBroker(
		filepath.Join(bc.StateDir, "permissions.yaml"),
		prompter,
		permission.PromptPolicy(bc.PromptPolicy),
		permission.AuditLevel(bc.AuditLevel),
	)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("permission broker: %w", err)
	}

	trustStore, err := loadTrustStore(bc.StateDir)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("trust store: %w", err)
	}

	governor := sandbox.NewGovernor(bc.MonitoringInterval, bus, pool, prometheus.DefaultRegisterer)

	cfg := lifecycle.Config{
		StateDir:        bc.StateDir,
		HostAPIVersion:  hostAPIVersion,
		TrustLevel:      signature.TrustLevel(bc.TrustLevel),
		NetworkTimeout:  bc.NetworkFetchTimeout,
		InitTimeout:     lifecycle.DefaultInitTimeout,
		TeardownTimeout: lifecycle.DefaultTeardownTimeout,
		InProcess:       bc.InProcess,
	}

	engine := lifecycle.NewEngine(cfg, reg, broker, trustStore, governor, bus, pool)
	return engine, pool, reg, prompter, nil
}

// loadTrustStore reads every *.pem file under stateDir/trust_store as a
// root certificate plugin signatures are anchored to. A trust store with
// no roots still verifies: no chain reaches a trusted root, so a correctly
// signed archive comes out ValidButUntrusted. A missing directory is
// therefore not fatal.
func loadTrustStore(stateDir string) (*signature.TrustStore, error) {
	dir := filepath.Join(stateDir, "trust_store")
	entries, err := os.ReadDir(dir)
	if err != nil {
		return signature.NewTrustStore(nil, nil)
	}

	var roots [][]byte
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".pem" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		roots = append(roots, data)
	}
	return signature.NewTrustStore(roots, nil)
}

// command is one request line from the attached UI collaborator.
type command struct {
	ID     string          `json:"id"`
	Op     string          `json:"op"`
	Params json.RawMessage `json:"params,omitempty"`
}

// response is the corresponding reply line, echoing the request id.
type response struct {
	ID     string      `json:"id"`
	Result interface{} `json:"result,omitempty"`
	Error  *cmdError   `json:"error,omitempty"`
}

type cmdError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// consentRequest is the unsolicited line the daemon writes when the
// permission broker needs an operator decision. The UI answers with a
// consent_response command echoing PromptID.
type consentRequest struct {
	Event     string                  `json:"event"`
	PromptID  string                  `json:"prompt_id"`
	PluginID  string                  `json:"plugin_id"`
	Reason    string                  `json:"reason"`
	Requested []capability.Descriptor `json:"requested"`
}

// lineWriter serializes the command loop's responses and the consent
// relay's unsolicited requests onto the single stdout stream.
type lineWriter struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func (w *lineWriter) write(v interface{}) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.enc.Encode(v)
}

// pendingPrompts tracks consent prompts awaiting a consent_response.
type pendingPrompts struct {
	mu      sync.Mutex
	waiting map[string]permission.PromptRequest
}

func (p *pendingPrompts) add(id string, req permission.PromptRequest) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.waiting[id] = req
}

func (p *pendingPrompts) take(id string) (permission.PromptRequest, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	req, ok := p.waiting[id]
	if ok {
		delete(p.waiting, id)
	}
	return req, ok
}

// runCommandLoop reads newline-delimited JSON commands from stdin and
// writes newline-delimited JSON responses to stdout until ctx is canceled
// or stdin is closed. Consent prompts from the broker are interleaved onto
// the same stream as consent_request lines.
func runCommandLoop(ctx context.Context, engine *lifecycle.Engine, prompter *permission.AsyncPrompter) {
	in := bufio.NewScanner(os.Stdin)
	in.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	out := &lineWriter{enc: json.NewEncoder(os.Stdout)}
	pending := &pendingPrompts{waiting: make(map[string]permission.PromptRequest)}

	if prompter != nil {
		go relayConsentPrompts(ctx, prompter, out, pending)
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		for in.Scan() {
			lines <- in.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if line == "" {
				continue
			}
			var cmd command
			if err := json.Unmarshal([]byte(line), &cmd); err != nil {
				out.write(response{Error: &cmdError{Code: "BAD_REQUEST", Message: err.Error()}})
				continue
			}
			out.write(dispatch(ctx, engine, pending, cmd))
		}
	}
}

// relayConsentPrompts forwards broker prompts to the UI as consent_request
// lines. The answer arrives later as a consent_response command; an answer
// that never comes leaves the broker's own prompt timeout to deny.
func relayConsentPrompts(ctx context.Context, prompter *permission.AsyncPrompter, out *lineWriter, pending *pendingPrompts) {
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-prompter.Requests:
			id := uuid.NewString()
			pending.add(id, req)
			out.write(consentRequest{
				Event:     "consent_request",
				PromptID:  id,
				PluginID:  req.PluginID,
				Reason:    req.Reason,
				Requested: req.Requested.ToSlice(),
			})
		}
	}
}

func dispatch(ctx context.Context, engine *lifecycle.Engine, pending *pendingPrompts, cmd command) response {
	result, err := handle(ctx, engine, pending, cmd)
	if err != nil {
		return response{ID: cmd.ID, Error: &cmdError{Code: errorCode(err), Message: err.Error()}}
	}
	return response{ID: cmd.ID, Result: result}
}

func errorCode(err error) string {
	switch e := err.(type) {
	case *plugins.PluginError:
		if e.Code != "" {
			return string(e.Code)
		}
	case *plugins.StandardError:
		return string(e.Code)
	}
	return "INTERNAL"
}

func handle(ctx context.Context, engine *lifecycle.Engine, pending *pendingPrompts, cmd command) (interface{}, error) {
	switch cmd.Op {
	case "consent_response":
		var p struct {
			PromptID string                                 `json:"prompt_id"`
			Outcomes map[capability.Kind]permission.Outcome `json:"outcomes"`
		}
		if err := json.Unmarshal(cmd.Params, &p); err != nil {
			return nil, err
		}
		req, ok := pending.take(p.PromptID)
		if !ok {
			return nil, plugins.NewPluginErrorWithCode(plugins.ErrorCodeNotFound, "", "consent_response", "no pending prompt with that id (it may have timed out)", nil)
		}
		req.Reply <- p.Outcomes
		return nil, nil

	case "list_plugins":
		return engine.List(), nil

	case "get_plugin":
		var p struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(cmd.Params, &p); err != nil {
			return nil, err
		}
		rec, ok := engine.Get(p.ID)
		if !ok {
			return nil, plugins.ErrNotFound
		}
		return rec, nil

	case "install_plugin_from_file":
		var p struct {
			Path       string `json:"path"`
			AutoEnable bool   `json:"auto_enable"`
		}
		if err := json.Unmarshal(cmd.Params, &p); err != nil {
			return nil, err
		}
		return engine.Install(ctx, lifecycle.LocalArchive(p.Path), p.AutoEnable)

	case "install_plugin_from_url":
		var p struct {
			URL        string `json:"url"`
			AutoEnable bool   `json:"auto_enable"`
		}
		if err := json.Unmarshal(cmd.Params, &p); err != nil {
			return nil, err
		}
		return engine.Install(ctx, lifecycle.URL(p.URL), p.AutoEnable)

	case "install_plugin_from_store":
		var p struct {
			StoreID    string `json:"store_id"`
			AutoEnable bool   `json:"auto_enable"`
		}
		if err := json.Unmarshal(cmd.Params, &p); err != nil {
			return nil, err
		}
		return engine.Install(ctx, lifecycle.StoreID(p.StoreID), p.AutoEnable)

	case "enable_plugin":
		var p struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(cmd.Params, &p); err != nil {
			return nil, err
		}
		return nil, engine.Enable(ctx, p.ID)

	case "disable_plugin":
		var p struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(cmd.Params, &p); err != nil {
			return nil, err
		}
		return nil, engine.Disable(ctx, p.ID)

	case "uninstall_plugin":
		var p struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(cmd.Params, &p); err != nil {
			return nil, err
		}
		return nil, engine.Uninstall(ctx, p.ID)

	case "update_plugin":
		var p struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(cmd.Params, &p); err != nil {
			return nil, err
		}
		return engine.Update(ctx, p.ID, nil)

	case "check_for_updates":
		return engine.CheckUpdates(ctx), nil

	case "get_plugin_permissions":
		var p struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(cmd.Params, &p); err != nil {
			return nil, err
		}
		return engine.Permissions(p.ID), nil

	case "grant_permission":
		var p struct {
			ID         string                `json:"id"`
			Capability capability.Descriptor `json:"capability"`
		}
		if err := json.Unmarshal(cmd.Params, &p); err != nil {
			return nil, err
		}
		return nil, engine.GrantPermission(p.ID, p.Capability)

	case "revoke_permission":
		var p struct {
			ID   string          `json:"id"`
			Kind capability.Kind `json:"kind"`
		}
		if err := json.Unmarshal(cmd.Params, &p); err != nil {
			return nil, err
		}
		return nil, engine.RevokePermission(p.ID, p.Kind)

	case "get_resource_usage":
		var p struct {
			ID       string           `json:"id"`
			Resource sandbox.Resource `json:"resource"`
		}
		if err := json.Unmarshal(cmd.Params, &p); err != nil {
			return nil, err
		}
		avg, peak, recent, ok := engine.ResourceUsage(p.ID, p.Resource)
		if !ok {
			return nil, plugins.NewPluginErrorWithCode(plugins.ErrorCodeNotFound, p.ID, "get_resource_usage", "plugin not governed or resource not sampled", nil)
		}
		return struct {
			Average float64        `json:"average"`
			Peak    float64        `json:"peak"`
			Recent  sandbox.Sample `json:"recent"`
		}{avg, peak, recent}, nil

	case "get_resource_limits":
		var p struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(cmd.Params, &p); err != nil {
			return nil, err
		}
		return engine.ResourceLimits(p.ID), nil

	case "update_resource_limits":
		var p struct {
			ID     string                `json:"id"`
			Limits []sandbox.LimitRecord `json:"limits"`
		}
		if err := json.Unmarshal(cmd.Params, &p); err != nil {
			return nil, err
		}
		return nil, engine.UpdateResourceLimits(p.ID, p.Limits)

	case "get_limit_events":
		var p struct {
			PluginID string `json:"plugin_id,omitempty"`
			FromTime int64  `json:"from_time,omitempty"`
			ToTime   int64  `json:"to_time,omitempty"`
		}
		if err := json.Unmarshal(cmd.Params, &p); err != nil {
			return nil, err
		}
		filter := plugins.EventFilter{
			Types:    []plugins.EventType{plugins.EventSoftLimitBreached, plugins.EventHardLimitBreached, plugins.EventLimitRecovered},
			FromTime: p.FromTime,
			ToTime:   p.ToTime,
		}
		if p.PluginID != "" {
			filter.PluginIDs = []string{p.PluginID}
		}
		return engine.LimitEvents(filter), nil

	default:
		return nil, plugins.NewPluginErrorWithCode(plugins.ErrorCodeManifestInvalid, "", cmd.Op, "unknown operation", nil)
	}
}
