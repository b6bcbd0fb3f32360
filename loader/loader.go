// Package loader dynamically links a plugin's native module and binds its
// two required exported symbols, plugin_init and plugin_teardown, across a
// stable C-compatible boundary. Windows is the only linking target; other
// builds fail closed with ErrUnsupportedPlatform. Loading into the host
// process is a development-only degraded mode — the child-process model is
// the intended deployment shape.
package loader

import (
	"unsafe"

	"github.com/go-lynx/pluginhost/plugins"
)

// InitResult is the plugin_init/plugin_teardown return-code taxonomy:
// 0 is success, negative values are specific failure kinds.
type InitResult int32

const (
	ResultOK                       InitResult = 0
	ResultNullContext              InitResult = -1
	ResultAPIMismatch              InitResult = -2
	ResultCallbackRegistrationFail InitResult = -3
	ResultAllocationFailure        InitResult = -4
	ResultUnspecified              InitResult = -5
)

func (r InitResult) Error() string {
	switch r {
	case ResultOK:
		return "ok"
	case ResultNullContext:
		return "null context"
	case ResultAPIMismatch:
		return "api mismatch"
	case ResultCallbackRegistrationFail:
		return "callback registration failure"
	case ResultAllocationFailure:
		return "allocation failure"
	default:
		return "unspecified failure"
	}
}

// LogFunc is the host-provided logging sink passed across the boundary.
type LogFunc func(level int32, message string)

// RegisterCallbackFunc lets the plugin subscribe to a named host event.
type RegisterCallbackFunc func(name string, fn uintptr) InitResult

// HostContext is the fixed-layout record passed to plugin_init across the
// host<->plugin boundary. PluginOpaque belongs to
// the plugin from the moment plugin_init returns until plugin_teardown is
// called; HostOpaque is threaded back in every callback invocation.
type HostContext struct {
	APIVersionMajor int32
	APIVersionMinor int32
	APIVersionPatch int32

	HostOpaque   unsafe.Pointer
	PluginOpaque unsafe.Pointer

	RegisterCallback RegisterCallbackFunc
	Log              LogFunc
}

// NewHostContext builds the context record for a plugin_init call.
func NewHostContext(apiVersion *plugins.Version, hostOpaque unsafe.Pointer, register RegisterCallbackFunc, log LogFunc) *HostContext {
	return &HostContext{
		APIVersionMajor:  int32(apiVersion.Major),
		APIVersionMinor:  int32(apiVersion.Minor),
		APIVersionPatch:  int32(apiVersion.Patch),
		HostOpaque:       hostOpaque,
		RegisterCallback: register,
		Log:              log,
	}
}

// Handle is the loader's reference to a dynamically linked native module,
// owned for the duration a plugin is Enabled and released on Disable.
type Handle struct {
	ModulePath string
	platform   platformHandle
}

// Loader opens native module files, resolves the required exported symbols,
// and drives plugin_init/plugin_teardown across the C boundary.
type Loader struct{}

// New returns a ready-to-use Loader.
func New() *Loader { return &Loader{} }

// Link opens modulePath and resolves plugin_init and plugin_teardown.
// Missing symbols, wrong architecture, or link-time errors return a
// structured loader error (ErrorCodeLinkFailed or ErrorCodeSymbolMissing).
func (l *Loader) Link(modulePath string) (*Handle, error) {
	ph, err := linkPlatform(modulePath)
	if err != nil {
		return nil, err
	}
	return &Handle{ModulePath: modulePath, platform: ph}, nil
}

// Init calls plugin_init(ctx) on h's module. Ownership of ctx.PluginOpaque
// passes to the plugin until Teardown.
func (l *Loader) Init(h *Handle, ctx *HostContext) (InitResult, error) {
	return callInit(h.platform, ctx)
}

// Teardown calls plugin_teardown on h's module, then nulls
// ctx.PluginOpaque; the host must not touch it afterward, since ownership
// reverted to the plugin's side of the boundary at init and died with it.
// Callers are expected to race this against a
// timeout themselves (the lifecycle engine's 5s teardown timeout); on
// timeout they should escalate to sandbox.Terminate and still call Release.
func (l *Loader) Teardown(h *Handle, ctx *HostContext) (InitResult, error) {
	res, err := callTeardown(h.platform, ctx)
	ctx.PluginOpaque = nil
	return res, err
}

// InvokeCallback calls a plugin-registered callback function pointer
// (obtained via HostContext.RegisterCallback) with hostOpaque as its single
// argument. Used by the lifecycle engine's event dispatch to trigger a
// named host event the plugin previously subscribed to.
func (l *Loader) InvokeCallback(fn uintptr, hostOpaque unsafe.Pointer) (InitResult, error) {
	return invokeCallback(fn, hostOpaque)
}

// Release frees the module handle. Must be called after Teardown, or after
// a forced termination, and always before any file the plugin occupies is
// deleted, or the mapped module keeps the install directory locked.
func (l *Loader) Release(h *Handle) error {
	return releasePlatform(h.platform)
}
