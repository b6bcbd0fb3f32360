package plugins

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestStandardErrorMessageIncludesCode(t *testing.T) {
	err := NewStandardError(ErrorCodeNotFound, "not found", "no such plugin")
	if !strings.Contains(err.Error(), string(ErrorCodeNotFound)) {
		t.Fatalf("expected the error string to include the code, got %q", err.Error())
	}
}

func TestPluginErrorFormatsPluginAndOperation(t *testing.T) {
	err := NewPluginErrorWithCode(ErrorCodeInitFailed, "com.example.sample", "enable", "timed out", nil)
	msg := err.Error()
	if !strings.Contains(msg, "com.example.sample") || !strings.Contains(msg, "enable") {
		t.Fatalf("expected the error message to mention plugin id and operation, got %q", msg)
	}
}

func TestPluginErrorUnwrapExposesCause(t *testing.T) {
	cause := fmt.Errorf("underlying failure")
	err := NewPluginError("com.example.sample", "link", "could not load", cause)
	if !errors.Is(err, cause) {
		t.Fatal("expected errors.Is to find the wrapped cause")
	}
}

func TestIsPluginErrorAndGetPluginError(t *testing.T) {
	var err error = NewPluginErrorWithCode(ErrorCodeLinkFailed, "com.example.sample", "link", "boom", nil)
	if !IsPluginError(err) {
		t.Fatal("expected IsPluginError to report true")
	}
	got := GetPluginError(err)
	if got == nil || got.Code != ErrorCodeLinkFailed {
		t.Fatalf("expected GetPluginError to recover the original code, got %+v", got)
	}

	if IsPluginError(errors.New("plain error")) {
		t.Fatal("expected IsPluginError to report false for a non-PluginError")
	}
}

func TestWithContextAccumulatesKeys(t *testing.T) {
	err := NewPluginError("com.example.sample", "install", "bad archive", nil).
		WithContext("path", "/tmp/plugin.zip").
		WithContext("size", 1024)
	if err.Context["path"] != "/tmp/plugin.zip" || err.Context["size"] != 1024 {
		t.Fatalf("expected both context keys to be present, got %+v", err.Context)
	}
}

func TestWithStackTraceCapturesCallerFrames(t *testing.T) {
	err := NewPluginErrorWithCode(ErrorCodeInitFailed, "com.example.sample", "enable", "timed out", nil).WithStackTrace()
	if len(err.Frames) == 0 {
		t.Fatal("expected at least one captured frame")
	}
	if !strings.Contains(err.Frames[0].Function, "TestWithStackTraceCapturesCallerFrames") {
		t.Fatalf("expected the first frame to be the caller, got %q", err.Frames[0].Function)
	}
	for _, f := range err.Frames {
		if strings.HasPrefix(f.Function, "runtime.") || strings.HasPrefix(f.Function, "testing.") {
			t.Fatalf("expected runtime/testing plumbing to be filtered out, got %q", f.Function)
		}
	}
}

func TestFormatErrorForUserOmitsStackFrames(t *testing.T) {
	err := NewPluginErrorWithCode(ErrorCodeInitFailed, "com.example.sample", "enable", "timed out", nil).WithStackTrace()
	out := FormatErrorForUser(err)
	if strings.Contains(out, "stack") || strings.Contains(out, ".go:") {
		t.Fatalf("expected the user-facing message to omit stack frames, got %q", out)
	}
	if !strings.Contains(out, "com.example.sample") {
		t.Fatalf("expected the user-facing message to name the plugin, got %q", out)
	}
}

func TestFormatErrorForDeveloperIncludesContextAndFrames(t *testing.T) {
	err := NewPluginErrorWithCode(ErrorCodeInitFailed, "com.example.sample", "enable", "timed out", nil).
		WithContext("attempt", 2).
		WithContext("entry", "bin/sample.dll").
		WithStackTrace()
	out := FormatErrorForDeveloper(err)
	if !strings.Contains(out, "context: attempt=2 entry=bin/sample.dll") {
		t.Fatalf("expected developer-facing output to include sorted context, got %q", out)
	}
	if !strings.Contains(out, "\nstack:") {
		t.Fatalf("expected developer-facing output to include a stack section, got %q", out)
	}
}

func TestFormatErrorForUserPlainErrorFallback(t *testing.T) {
	plain := errors.New("disk full")
	if FormatErrorForUser(plain) != "disk full" {
		t.Fatalf("expected a plain error to pass through unchanged, got %q", FormatErrorForUser(plain))
	}
}
