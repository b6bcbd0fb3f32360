package plugins

import "testing"

func TestValidateIDAcceptsReverseDNSForm(t *testing.T) {
	for _, id := range []string{"com.example.imageresizer", "io.pluginhost.sample-tool", "a.b.c"} {
		if err := ValidateID(id); err != nil {
			t.Errorf("expected %q to be a valid id, got error: %v", id, err)
		}
	}
}

func TestValidateIDRejectsMalformed(t *testing.T) {
	for _, id := range []string{"", "A.B", "com/example", "com example", ".leadingdot", "x"} {
		if err := ValidateID(id); err == nil {
			t.Errorf("expected %q to be rejected", id)
		}
	}
}

func TestIDNamespace(t *testing.T) {
	if ns := IDNamespace("com.example.imageresizer"); ns != "com.example" {
		t.Fatalf("expected namespace 'com.example', got %q", ns)
	}
	if ns := IDNamespace("noNamespace"); ns != "" {
		t.Fatalf("expected empty namespace for an id with no dot, got %q", ns)
	}
}
