//go:build windows

package loader

import (
	"fmt"
	"unsafe"

	"github.com/go-lynx/pluginhost/plugins"
	"golang.org/x/sys/windows"
)

// platformHandle holds the Windows-specific state for a linked module:
// the loaded library and the resolved addresses of its two required
// exports.
type platformHandle struct {
	lib          windows.Handle
	initAddr     uintptr
	teardownAddr uintptr
}

const (
	initSymbol     = "plugin_init"
	teardownSymbol = "plugin_teardown"
)

func linkPlatform(modulePath string) (platformHandle, error) {
	lib, err := windows.LoadLibraryEx(modulePath, 0, windows.LOAD_LIBRARY_SEARCH_DEFAULT_DIRS)
	if err != nil {
		// Fallback for older systems lacking the extended search flags.
		lib, err = windows.LoadLibrary(modulePath)
		if err != nil {
			return platformHandle{}, plugins.NewPluginErrorWithCode(plugins.ErrorCodeLinkFailed, "", modulePath, err.Error(), err)
		}
	}

	initAddr, err := windows.GetProcAddress(lib, initSymbol)
	if err != nil {
		windows.FreeLibrary(lib)
		return platformHandle{}, plugins.NewPluginErrorWithCode(plugins.ErrorCodeSymbolMissing, "", initSymbol, err.Error(), err)
	}
	teardownAddr, err := windows.GetProcAddress(lib, teardownSymbol)
	if err != nil {
		windows.FreeLibrary(lib)
		return platformHandle{}, plugins.NewPluginErrorWithCode(plugins.ErrorCodeSymbolMissing, "", teardownSymbol, err.Error(), err)
	}

	return platformHandle{lib: lib, initAddr: initAddr, teardownAddr: teardownAddr}, nil
}

// callInit invokes plugin_init(ctx) through the stdcall/cdecl-compatible
// syscall path x/sys/windows exposes for raw function pointers, passing a
// single pointer argument per the fixed HostContext layout.
func callInit(ph platformHandle, ctx *HostContext) (InitResult, error) {
	r1, _, _ := windows.Syscall(ph.initAddr, 1, uintptr(unsafe.Pointer(ctx)), 0, 0)
	return InitResult(int32(r1)), nil
}

func callTeardown(ph platformHandle, ctx *HostContext) (InitResult, error) {
	r1, _, _ := windows.Syscall(ph.teardownAddr, 1, uintptr(unsafe.Pointer(ctx)), 0, 0)
	return InitResult(int32(r1)), nil
}

// invokeCallback calls a plugin-registered callback function pointer with
// the host's opaque pointer as its single argument, the same single-pointer
// calling convention plugin_init/plugin_teardown use.
func invokeCallback(fn uintptr, hostOpaque unsafe.Pointer) (InitResult, error) {
	r1, _, _ := windows.Syscall(fn, 1, uintptr(hostOpaque), 0, 0)
	return InitResult(int32(r1)), nil
}

func releasePlatform(ph platformHandle) error {
	if ph.lib == 0 {
		return nil
	}
	if err := windows.FreeLibrary(ph.lib); err != nil {
		return fmt.Errorf("loader: FreeLibrary: %w", err)
	}
	return nil
}
