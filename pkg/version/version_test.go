package version

import (
	"strings"
	"testing"
)

func TestString(t *testing.T) {
	prev := Version
	Version = "1.2.3"
	defer func() { Version = prev }()

	s := String()
	if !strings.HasPrefix(s, "hmem 1.2.3 ") {
		t.Errorf("unexpected version string %q", s)
	}
	if Info()["version"] != "1.2.3" {
		t.Errorf("Info() version = %q", Info()["version"])
	}
}
