package xid

import (
	"regexp"
	"strings"
	"testing"
	"time"
)

func TestNewIsPrefixedAndUnique(t *testing.T) {
	a, b := New("audit"), New("audit")
	if !strings.HasPrefix(a, "audit-") {
		t.Fatalf("missing prefix: %s", a)
	}
	if a == b {
		t.Fatalf("expected unique ids, got %s twice", a)
	}
}

func TestDatedFormat(t *testing.T) {
	id := Dated("PAUSE", time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC))
	if !regexp.MustCompile(`^PAUSE-20260302-[0-9A-F]{8}$`).MatchString(id) {
		t.Fatalf("unexpected id %s", id)
	}
}
