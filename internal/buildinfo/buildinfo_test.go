package buildinfo

import "testing"

func TestShortPrefersStampedVersion(t *testing.T) {
	v, c := Version, Commit
	defer func() { Version, Commit = v, c }()

	Version, Commit = "v1.2.0", "abc123"
	if got := Short(); got != "v1.2.0" {
		t.Fatalf("Short() = %q, want v1.2.0", got)
	}

	Version = "dev"
	if got := Short(); got != "abc123" {
		t.Fatalf("Short() = %q, want abc123", got)
	}
}

func TestLong(t *testing.T) {
	v, c, d := Version, Commit, Date
	defer func() { Version, Commit, Date = v, c, d }()

	Version, Commit, Date = "v0.3.1", "f00d", "2026-10-01"
	if got, want := Long(), "v0.3.1 (commit f00d, built 2026-10-01)"; got != want {
		t.Fatalf("Long() = %q, want %q", got, want)
	}
}
