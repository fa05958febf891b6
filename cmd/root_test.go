package cmd

import (
	"testing"
)

func TestCommandsRegistered(t *testing.T) {
	want := []string{"remember", "recall", "feedback", "decay", "sources", "phase", "train", "doctor", "version"}
	registered := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		registered[c.Name()] = true
	}
	for _, name := range want {
		if !registered[name] {
			t.Errorf("command %q not registered", name)
		}
	}
}

func TestFirstLine(t *testing.T) {
	if got := firstLine("one\ntwo", 100); got != "one" {
		t.Errorf("expected first line only, got %q", got)
	}
	if got := firstLine("abcdef", 3); got != "abc..." {
		t.Errorf("expected truncation, got %q", got)
	}
	if got := firstLine("short", 100); got != "short" {
		t.Errorf("expected unchanged, got %q", got)
	}
}

func TestSetVersion(t *testing.T) {
	SetVersion("1.2.3", "abc123", "2026-01-01")
	if Version != "1.2.3" || Commit != "abc123" || Date != "2026-01-01" {
		t.Errorf("version vars not set: %s %s %s", Version, Commit, Date)
	}
	SetVersion("dev", "none", "unknown")
}
