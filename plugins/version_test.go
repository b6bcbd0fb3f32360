package plugins

import "testing"

func TestParseVersionBasic(t *testing.T) {
	v, err := ParseVersion("v1.2.3-beta.1+build42")
	if err != nil {
		t.Fatalf("ParseVersion: %v", err)
	}
	if v.Major != 1 || v.Minor != 2 || v.Patch != 3 {
		t.Fatalf("unexpected major.minor.patch: %d.%d.%d", v.Major, v.Minor, v.Patch)
	}
	if v.PreRelease != "beta.1" || v.Build != "build42" {
		t.Fatalf("unexpected prerelease/build: %q / %q", v.PreRelease, v.Build)
	}
}

func TestParseVersionRejectsEmpty(t *testing.T) {
	if _, err := ParseVersion(""); err == nil {
		t.Fatal("expected an error for an empty version string")
	}
}

func TestCompareVersionsOrdering(t *testing.T) {
	cases := []struct {
		a, b string
		want int
	}{
		{"1.0.0", "1.0.1", -1},
		{"2.0.0", "1.9.9", 1},
		{"1.2.3", "1.2.3", 0},
		{"1.0.0-alpha", "1.0.0", -1},
		{"1.0.0-alpha.1", "1.0.0-alpha.2", -1},
		{"1.0.0-beta", "1.0.0-alpha", 1},
	}
	for _, c := range cases {
		va, err := ParseVersion(c.a)
		if err != nil {
			t.Fatalf("ParseVersion(%q): %v", c.a, err)
		}
		vb, err := ParseVersion(c.b)
		if err != nil {
			t.Fatalf("ParseVersion(%q): %v", c.b, err)
		}
		if got := CompareVersions(va, vb); got != c.want {
			t.Errorf("CompareVersions(%q, %q) = %d, want %d", c.a, c.b, got, c.want)
		}
	}
}

func TestIsApiCompatible(t *testing.T) {
	host, _ := ParseVersion("1.4.0")

	compatible, _ := ParseVersion("1.2.0")
	if !IsApiCompatible(compatible, host) {
		t.Fatal("plugin minor version below host minor on the same major should be compatible")
	}

	tooNew, _ := ParseVersion("1.9.0")
	if IsApiCompatible(tooNew, host) {
		t.Fatal("plugin minor version above host minor should not be compatible")
	}

	differentMajor, _ := ParseVersion("2.0.0")
	if IsApiCompatible(differentMajor, host) {
		t.Fatal("a different major version should never be compatible")
	}
}
