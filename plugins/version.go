package plugins

import (
	"fmt"
	"strconv"
	"strings"
)

// Version is the ordered major.minor.patch[-prerelease][+build] triple used
// for both a plugin's own version and the host api_version it targets.
type Version struct {
	Major      int
	Minor      int
	Patch      int
	PreRelease string
	Build      string
	Original   string
}

// ParseVersion parses a semantic-version-shaped string into a Version.
func ParseVersion(version string) (*Version, error) {
	if version == "" {
		return nil, fmt.Errorf("version string cannot be empty")
	}

	original := version
	version = strings.TrimPrefix(version, "v")

	var preRelease, build string
	if i := strings.Index(version, "+"); i >= 0 {
		build = version[i+1:]
		version = version[:i]
	}

	parts := strings.SplitN(version, "-", 2)
	versionPart := parts[0]
	if len(parts) > 1 {
		preRelease = parts[1]
	}

	versionNumbers := strings.Split(versionPart, ".")
	if len(versionNumbers) < 1 || versionNumbers[0] == "" {
		return nil, fmt.Errorf("invalid version format: %s", original)
	}

	major, err := strconv.Atoi(versionNumbers[0])
	if err != nil {
		return nil, fmt.Errorf("invalid major version: %s", versionNumbers[0])
	}

	minor := 0
	if len(versionNumbers) > 1 {
		minor, err = strconv.Atoi(versionNumbers[1])
		if err != nil {
			return nil, fmt.Errorf("invalid minor version: %s", versionNumbers[1])
		}
	}

	patch := 0
	if len(versionNumbers) > 2 {
		patch, err = strconv.Atoi(versionNumbers[2])
		if err != nil {
			return nil, fmt.Errorf("invalid patch version: %s", versionNumbers[2])
		}
	}

	return &Version{
		Major:      major,
		Minor:      minor,
		Patch:      patch,
		PreRelease: preRelease,
		Build:      build,
		Original:   original,
	}, nil
}

// CompareVersions returns -1, 0, or 1 as v1 is less than, equal to, or
// greater than v2. A release version always outranks a pre-release of the
// same major.minor.patch.
func CompareVersions(v1, v2 *Version) int {
	if v1 == nil || v2 == nil {
		return 0
	}

	if v1.Major != v2.Major {
		if v1.Major < v2.Major {
			return -1
		}
		return 1
	}
	if v1.Minor != v2.Minor {
		if v1.Minor < v2.Minor {
			return -1
		}
		return 1
	}
	if v1.Patch != v2.Patch {
		if v1.Patch < v2.Patch {
			return -1
		}
		return 1
	}

	if v1.PreRelease == "" && v2.PreRelease == "" {
		return 0
	}
	if v1.PreRelease == "" {
		return 1
	}
	if v2.PreRelease == "" {
		return -1
	}

	return comparePreRelease(v1.PreRelease, v2.PreRelease)
}

func comparePreRelease(pr1, pr2 string) int {
	parts1 := strings.Split(pr1, ".")
	parts2 := strings.Split(pr2, ".")

	maxLen := len(parts1)
	if len(parts2) > maxLen {
		maxLen = len(parts2)
	}

	for i := 0; i < maxLen; i++ {
		var part1, part2 string
		if i < len(parts1) {
			part1 = parts1[i]
		}
		if i < len(parts2) {
			part2 = parts2[i]
		}

		if isNumeric(part1) && isNumeric(part2) {
			num1, _ := strconv.Atoi(part1)
			num2, _ := strconv.Atoi(part2)
			if num1 != num2 {
				if num1 < num2 {
					return -1
				}
				return 1
			}
		} else {
			if part1 < part2 {
				return -1
			}
			if part1 > part2 {
				return 1
			}
		}
	}

	return 0
}

func isNumeric(s string) bool {
	_, err := strconv.Atoi(s)
	return err == nil
}

// IsApiCompatible reports whether a plugin declaring apiVersion may load
// against a host that implements hostApiVersion: major must match exactly,
// and the plugin's minor must not exceed the host's (patch is not gated).
func IsApiCompatible(pluginAPIVersion, hostAPIVersion *Version) bool {
	if pluginAPIVersion == nil || hostAPIVersion == nil {
		return false
	}
	if pluginAPIVersion.Major != hostAPIVersion.Major {
		return false
	}
	return pluginAPIVersion.Minor <= hostAPIVersion.Minor
}

// String renders the version in major.minor.patch[-prerelease][+build] form.
func (v *Version) String() string {
	if v == nil {
		return ""
	}

	result := fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
	if v.PreRelease != "" {
		result += "-" + v.PreRelease
	}
	if v.Build != "" {
		result += "+" + v.Build
	}

	return result
}

// IsStable reports whether the version has no pre-release component.
func (v *Version) IsStable() bool {
	return v != nil && v.PreRelease == ""
}

// IsPreRelease reports whether the version carries a pre-release component.
func (v *Version) IsPreRelease() bool {
	return v != nil && v.PreRelease != ""
}
