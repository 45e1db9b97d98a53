package version

import (
	"strings"
	"testing"
)

func TestString(t *testing.T) {
	oldVersion, oldSHA := Version, GitSHA
	t.Cleanup(func() { Version, GitSHA = oldVersion, oldSHA })

	Version, GitSHA = "1.2.0", "abc1234"
	got := String()
	for _, want := range []string{"br2vision 1.2.0", "commit abc1234", "built " + BuildTime} {
		if !strings.Contains(got, want) {
			t.Errorf("String() = %q, missing %q", got, want)
		}
	}
}

func TestRevisionPrefersLdflags(t *testing.T) {
	old := GitSHA
	t.Cleanup(func() { GitSHA = old })

	GitSHA = "deadbeef"
	if got := Revision(); got != "deadbeef" {
		t.Errorf("Revision() = %q, want deadbeef", got)
	}
	GitSHA = "unknown"
	if got := Revision(); got == "" {
		t.Error("Revision() should never be empty")
	}
}
