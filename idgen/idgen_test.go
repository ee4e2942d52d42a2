package idgen

import (
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestUUIDv7_Version(t *testing.T) {
	id := UUIDv7()()
	u, err := uuid.Parse(id)
	if err != nil {
		t.Fatalf("parse %q: %v", id, err)
	}
	if u.Version() != 7 {
		t.Fatalf("version = %d, want 7", u.Version())
	}
}

func TestPrefixed(t *testing.T) {
	id := Prefixed("um_", Default)()
	if !strings.HasPrefix(id, "um_") {
		t.Fatalf("missing prefix: %q", id)
	}
	if len(id) != len("um_")+36 {
		t.Fatalf("length = %d", len(id))
	}
}

func TestSequence(t *testing.T) {
	gen := Sequence("post-")
	for _, want := range []string{"post-1", "post-2", "post-3"} {
		if got := gen(); got != want {
			t.Fatalf("got %q, want %q", got, want)
		}
	}
}
