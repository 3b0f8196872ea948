package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "intake.yaml")
	body := "database:\n  driver: sqlite\n  dsn: " + filepath.Join(dir, "intake.db") + "\n" +
		"storage:\n  backend: fs\n  root_dir: " + dir + "\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestDBMigrateAndHealth(t *testing.T) {
	cfg := writeConfig(t)
	out, err := runCLI(t, "--config", cfg, "db", "migrate")
	if err != nil || !strings.Contains(out, "schema applied (sqlite)") {
		t.Fatalf("migrate: %q, %v", out, err)
	}
	out, err = runCLI(t, "--config", cfg, "db", "health")
	if err != nil || !strings.Contains(out, "DB health: OK") {
		t.Fatalf("health: %q, %v", out, err)
	}
}

func TestStatusRejectsBadID(t *testing.T) {
	cfg := writeConfig(t)
	if _, err := runCLI(t, "--config", cfg, "status", "nope"); err == nil || !strings.Contains(err.Error(), "not a document id") {
		t.Fatalf("expected id error, got %v", err)
	}
}

func TestContentFor(t *testing.T) {
	c := contentFor([]byte("one\ftwo\f"), "text/plain")
	if len(c.Texts) != 2 || c.Texts[1].Page != 2 || c.Texts[1].Text != "two" {
		t.Fatalf("unexpected texts %+v", c.Texts)
	}
	b := contentFor([]byte("%PDF"), "application/pdf")
	if len(b.Bytes) == 0 || b.MIMEType != "application/pdf" || len(b.Texts) != 0 {
		t.Fatalf("unexpected content %+v", b)
	}
	if got := pageRange(3); len(got) != 3 || got[0] != 1 || got[2] != 3 {
		t.Fatalf("pageRange = %v", got)
	}
}

func TestRenderTable(t *testing.T) {
	out := renderTable([]string{"A", "B"}, [][]string{{"1"}, {"2", "x"}}, []columnAlignment{alignRight})
	if !strings.Contains(out, "A") || !strings.Contains(out, "x") {
		t.Fatalf("unexpected table:\n%s", out)
	}
}
