// Package manifest decodes and validates the declarative document a plugin
// author embeds in an archive: identity, entry point, the host API version
// it was built against, and its requested capabilities. The document is
// decoded as YAML, shipped inside the archive as manifest.yaml,
// manifest.yml or manifest.json.
package manifest

import (
	"fmt"
	"path"
	"strings"

	"github.com/go-lynx/pluginhost/capability"
	"github.com/go-lynx/pluginhost/plugins"
	"gopkg.in/yaml.v3"
)

// Manifest is the structured record produced by a plugin author, embedded in
// the archive as manifest.<ext>.
type Manifest struct {
	ID          string `yaml:"id"`
	Version     string `yaml:"version"`
	Entry       string `yaml:"entry"`
	APIVersion  string `yaml:"api_version"`
	Permissions []Perm `yaml:"permissions"`
	Name        string `yaml:"name,omitempty"`
	Description string `yaml:"description,omitempty"`
	Author      string `yaml:"author,omitempty"`
	Homepage    string `yaml:"homepage,omitempty"`
}

// Perm is the YAML shape of a single capability descriptor: a kind tag plus
// whichever scope block matches it. Descriptor converts it to a
// capability.Descriptor after structural validation.
type Perm struct {
	Kind         string                        `yaml:"kind"`
	Filesystem   *capability.FilesystemScope   `yaml:"filesystem,omitempty"`
	Network      *capability.NetworkScope      `yaml:"network,omitempty"`
	UI           *capability.UIScope           `yaml:"ui,omitempty"`
	System       *capability.SystemScope       `yaml:"system,omitempty"`
	Interprocess *capability.InterprocessScope `yaml:"interprocess,omitempty"`
}

// Parse decodes raw YAML bytes into a Manifest without validating it.
func Parse(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, plugins.NewPluginErrorWithCode(plugins.ErrorCodeManifestInvalid, "", "parse", err.Error(), err)
	}
	return &m, nil
}

// Descriptor converts p to a capability.Descriptor, failing if the kind tag
// is unrecognized or the matching scope block is absent.
func (p Perm) Descriptor() (capability.Descriptor, error) {
	switch capability.Kind(p.Kind) {
	case capability.KindFilesystem:
		if p.Filesystem == nil {
			return capability.Descriptor{}, fmt.Errorf("permission kind %q missing filesystem scope", p.Kind)
		}
		return capability.NewFilesystem(*p.Filesystem), nil
	case capability.KindNetwork:
		if p.Network == nil {
			return capability.Descriptor{}, fmt.Errorf("permission kind %q missing network scope", p.Kind)
		}
		return capability.NewNetwork(*p.Network), nil
	case capability.KindUI:
		if p.UI == nil {
			return capability.Descriptor{}, fmt.Errorf("permission kind %q missing ui scope", p.Kind)
		}
		return capability.NewUI(*p.UI), nil
	case capability.KindSystem:
		if p.System == nil {
			return capability.Descriptor{}, fmt.Errorf("permission kind %q missing system scope", p.Kind)
		}
		return capability.NewSystem(*p.System), nil
	case capability.KindInterprocess:
		if p.Interprocess == nil {
			return capability.Descriptor{}, fmt.Errorf("permission kind %q missing interprocess scope", p.Kind)
		}
		return capability.NewInterprocess(*p.Interprocess), nil
	default:
		return capability.Descriptor{}, fmt.Errorf("unrecognized permission kind %q", p.Kind)
	}
}

// Capabilities decodes every permission entry into a capability.Set.
func (m *Manifest) Capabilities() (capability.Set, error) {
	set := make(capability.Set, len(m.Permissions))
	for _, p := range m.Permissions {
		d, err := p.Descriptor()
		if err != nil {
			return nil, plugins.NewPluginErrorWithCode(plugins.ErrorCodeManifestInvalid, m.ID, "capabilities", err.Error(), err)
		}
		set.Add(d)
	}
	return set, nil
}

// Validate runs the structural, grammar, bounds, and api-version checks a
// manifest must pass before it is accepted. hostAPIVersion is the
// host's own api_version triple, used to check major-equality.
func (m *Manifest) Validate(hostAPIVersion *plugins.Version) error {
	if m.ID == "" || m.Version == "" || m.Entry == "" || m.APIVersion == "" {
		return plugins.NewPluginErrorWithCode(plugins.ErrorCodeManifestInvalid, m.ID, "validate", "missing required field (id, version, entry, api_version)", nil)
	}
	if err := plugins.ValidateID(m.ID); err != nil {
		return err
	}
	if _, err := plugins.ParseVersion(m.Version); err != nil {
		return plugins.NewPluginErrorWithCode(plugins.ErrorCodeManifestInvalid, m.ID, "validate", "invalid version: "+err.Error(), err)
	}
	if err := validateEntry(m.Entry); err != nil {
		return plugins.NewPluginErrorWithCode(plugins.ErrorCodeManifestInvalid, m.ID, "validate", err.Error(), err)
	}

	apiVersion, err := plugins.ParseVersion(m.APIVersion)
	if err != nil {
		return plugins.NewPluginErrorWithCode(plugins.ErrorCodeManifestInvalid, m.ID, "validate", "invalid api_version: "+err.Error(), err)
	}
	if hostAPIVersion != nil && !plugins.IsApiCompatible(apiVersion, hostAPIVersion) {
		return plugins.NewPluginErrorWithCode(plugins.ErrorCodeApiIncompatible, m.ID, "validate",
			fmt.Sprintf("manifest api_version %s incompatible with host %s", apiVersion, hostAPIVersion), nil)
	}

	if _, err := m.Capabilities(); err != nil {
		return err
	}
	return nil
}

// validateEntry enforces that entry is a relative path strictly inside the
// archive root: no "..", no absolute path, no drive-letter/UNC escape.
func validateEntry(entry string) error {
	if entry == "" {
		return fmt.Errorf("entry must not be empty")
	}
	cleaned := path.Clean(strings.ReplaceAll(entry, "\\", "/"))
	if path.IsAbs(cleaned) {
		return fmt.Errorf("entry %q must be a relative path", entry)
	}
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return fmt.Errorf("entry %q escapes the archive root", entry)
	}
	if len(cleaned) >= 2 && cleaned[1] == ':' {
		return fmt.Errorf("entry %q must not carry a drive letter", entry)
	}
	return nil
}
