//go:build !windows

package loader

import (
	"errors"
	"unsafe"

	"github.com/go-lynx/pluginhost/plugins"
)

// ErrUnsupportedPlatform is returned by every linking operation outside of
// Windows. Dynamic native-module linking is Windows-specific; safety on
// these builds comes from the signature and permission gates alone, since
// there is nothing to link.
var ErrUnsupportedPlatform = errors.New("loader: native module linking is only implemented on windows")

type platformHandle struct{}

func linkPlatform(modulePath string) (platformHandle, error) {
	return platformHandle{}, plugins.NewPluginErrorWithCode(plugins.ErrorCodeLinkFailed, "", modulePath, ErrUnsupportedPlatform.Error(), ErrUnsupportedPlatform)
}

func callInit(platformHandle, *HostContext) (InitResult, error) {
	return ResultUnspecified, ErrUnsupportedPlatform
}

func callTeardown(platformHandle, *HostContext) (InitResult, error) {
	return ResultUnspecified, ErrUnsupportedPlatform
}

func releasePlatform(platformHandle) error {
	return nil
}

func invokeCallback(uintptr, unsafe.Pointer) (InitResult, error) {
	return ResultUnspecified, ErrUnsupportedPlatform
}
