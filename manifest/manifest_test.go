package manifest

import (
	"strings"
	"testing"

	"github.com/go-lynx/pluginhost/plugins"
)

func mustParse(t *testing.T, doc string) *Manifest {
	t.Helper()
	m, err := Parse([]byte(doc))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return m
}

func TestParseAndValidateValidManifest(t *testing.T) {
	doc := `
id: com.example.imageresizer
version: 1.2.0
entry: bin/resizer.dll
api_version: 1.0.0
permissions:
  - kind: filesystem
    filesystem:
      read: true
      paths: ["%TEMP%/imageresizer"]
  - kind: network
    network:
      allowed_hosts: ["cdn.example.com"]
`
	m := mustParse(t, doc)
	host, err := plugins.ParseVersion("1.0.0")
	if err != nil {
		t.Fatalf("ParseVersion: %v", err)
	}
	if err := m.Validate(host); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	caps, err := m.Capabilities()
	if err != nil {
		t.Fatalf("Capabilities: %v", err)
	}
	if caps.Len() != 2 {
		t.Fatalf("expected 2 capabilities, got %d", caps.Len())
	}
}

func TestValidateRejectsMissingRequiredField(t *testing.T) {
	doc := `
id: com.example.imageresizer
entry: bin/resizer.dll
api_version: 1.0.0
`
	m := mustParse(t, doc)
	if err := m.Validate(nil); err == nil {
		t.Fatal("expected Validate to reject a manifest missing version")
	}
}

func TestValidateRejectsEntryEscapingArchiveRoot(t *testing.T) {
	for _, entry := range []string{"../outside.dll", "C:\\Windows\\evil.dll", "/abs/path.dll"} {
		doc := "id: com.example.bad\nversion: 1.0.0\nentry: " + entry + "\napi_version: 1.0.0\n"
		m := mustParse(t, doc)
		if err := m.Validate(nil); err == nil {
			t.Fatalf("expected Validate to reject entry %q", entry)
		}
	}
}

func TestValidateRejectsIncompatibleAPIVersion(t *testing.T) {
	doc := `
id: com.example.imageresizer
version: 1.0.0
entry: bin/resizer.dll
api_version: 2.0.0
`
	m := mustParse(t, doc)
	host, _ := plugins.ParseVersion("1.0.0")
	err := m.Validate(host)
	if err == nil {
		t.Fatal("expected Validate to reject a manifest built against a different major api_version")
	}
	if !strings.Contains(err.Error(), "incompatible") && !strings.Contains(err.Error(), "API_INCOMPATIBLE") {
		t.Fatalf("expected an api-incompatibility error, got: %v", err)
	}
}

func TestCapabilitiesRejectsUnknownKind(t *testing.T) {
	doc := `
id: com.example.bad
version: 1.0.0
entry: bin/bad.dll
api_version: 1.0.0
permissions:
  - kind: bluetooth
`
	m := mustParse(t, doc)
	if _, err := m.Capabilities(); err == nil {
		t.Fatal("expected an error for an unrecognized permission kind")
	}
}

func TestCapabilitiesRejectsMissingScopeBlock(t *testing.T) {
	doc := `
id: com.example.bad
version: 1.0.0
entry: bin/bad.dll
api_version: 1.0.0
permissions:
  - kind: filesystem
`
	m := mustParse(t, doc)
	if _, err := m.Capabilities(); err == nil {
		t.Fatal("expected an error when the filesystem scope block is absent")
	}
}
