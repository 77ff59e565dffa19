package app

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/tidewatch-io/tidewatch/internal/agent/version"
)

func runStatus(t *testing.T, dir string) string {
	t.Helper()
	var out bytes.Buffer
	cmd := NewAgentCommand()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs([]string{"status", "--state-dir", dir})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("status: %v", err)
	}
	return out.String()
}

func TestStatusFactoryState(t *testing.T) {
	out := runStatus(t, t.TempDir())

	for _, want := range []string{"none recorded", "Active slot:", "none", "SLOT"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestStatusInstalledFirmware(t *testing.T) {
	dir := t.TempDir()
	if err := version.NewStore(dir, nil).Set(version.Record{Version: "2.4.1", Title: "tidewatch", Confirmed: true}); err != nil {
		t.Fatalf("seed version record: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "slot_a.bin"), bytes.Repeat([]byte{0xAB}, 64), 0o644); err != nil {
		t.Fatalf("seed slot a: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "active"), []byte("a"), 0o644); err != nil {
		t.Fatalf("seed marker: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "slot_b.bin.partial"), []byte{0x01}, 0o644); err != nil {
		t.Fatalf("seed staged image: %v", err)
	}

	out := runStatus(t, dir)

	for _, want := range []string{"tidewatch", "2.4.1", "Confirmed:", "yes", "64"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}

	// Slot b carries a staged partial image and must be reported as such.
	var slotB string
	for _, line := range strings.Split(out, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "b") {
			slotB = line
		}
	}
	if slotB == "" || !strings.Contains(slotB, "yes") {
		t.Errorf("slot b row does not report the staged image:\n%s", out)
	}
}
