package capability

import "testing"

func TestDescriptorSubsumesSameKind(t *testing.T) {
	broad := NewFilesystem(FilesystemScope{Read: true, Write: true})
	narrow := NewFilesystem(FilesystemScope{Read: true, Write: false, Paths: []string{"/tmp/app"}})

	if !broad.Subsumes(narrow) {
		t.Fatal("unrestricted read/write filesystem scope should subsume a narrower read-only scope")
	}
	if narrow.Subsumes(broad) {
		t.Fatal("narrower scope must not subsume a broader one")
	}
}

func TestDescriptorSubsumesDifferentKindIsFalse(t *testing.T) {
	fs := NewFilesystem(FilesystemScope{Read: true})
	net := NewNetwork(NetworkScope{AllowedHosts: []string{"example.com"}})

	if fs.Subsumes(net) || net.Subsumes(fs) {
		t.Fatal("descriptors of different kinds must never subsume each other")
	}
}

func TestNetworkScopeAnyHostSubsumesEverything(t *testing.T) {
	any := NewNetwork(NetworkScope{AllowedHosts: []string{AnyHost}})
	specific := NewNetwork(NetworkScope{AllowedHosts: []string{"a.example.com", "b.example.com"}})

	if !any.Subsumes(specific) {
		t.Fatal("a wildcard network scope must subsume any specific host list")
	}
	if specific.Subsumes(any) {
		t.Fatal("a specific host list must not subsume the wildcard")
	}
}

func TestRiskTierEscalatesForRootPathAndAnyHost(t *testing.T) {
	rootFS := NewFilesystem(FilesystemScope{Write: true, Paths: []string{"/"}})
	if rootFS.RiskTier() != RiskHigh {
		t.Fatalf("filesystem scope rooted at / should be RiskHigh, got %s", rootFS.RiskTier())
	}

	anyNet := NewNetwork(NetworkScope{AllowedHosts: []string{AnyHost}})
	if anyNet.RiskTier() != RiskHigh {
		t.Fatalf("network scope with AnyHost should be RiskHigh, got %s", anyNet.RiskTier())
	}

	readOnlyFS := NewFilesystem(FilesystemScope{Read: true, Paths: []string{"/tmp/x"}})
	if readOnlyFS.RiskTier() != RiskLow {
		t.Fatalf("read-only bounded filesystem scope should be RiskLow, got %s", readOnlyFS.RiskTier())
	}
}

func TestSetDiffReturnsOnlyUncoveredRequests(t *testing.T) {
	granted := NewSet(NewFilesystem(FilesystemScope{Read: true}))
	requested := NewSet(
		NewFilesystem(FilesystemScope{Read: true}),
		NewNetwork(NetworkScope{AllowedHosts: []string{"example.com"}}),
	)

	diff := requested.Diff(granted)
	if diff.Len() != 1 {
		t.Fatalf("expected exactly one uncovered capability, got %d", diff.Len())
	}
	if !diff.Has(KindNetwork) {
		t.Fatal("expected the network capability to be the uncovered one")
	}
}

func TestSetSubsumes(t *testing.T) {
	broad := NewSet(NewFilesystem(FilesystemScope{Read: true, Write: true}))
	narrow := NewSet(NewFilesystem(FilesystemScope{Read: true}))

	if !broad.Subsumes(narrow) {
		t.Fatal("a broader set should subsume a narrower one")
	}
	if narrow.Subsumes(broad) {
		t.Fatal("a narrower set should not subsume a broader one")
	}
}

func TestWellFormedRejectsMismatchedScope(t *testing.T) {
	d := Descriptor{Kind: KindNetwork}
	if d.WellFormed() {
		t.Fatal("a descriptor with a Kind but no matching scope must not be well-formed")
	}
}
