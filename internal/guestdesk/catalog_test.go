package guestdesk

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestCatalogDefaults(t *testing.T) {
	catalog, err := NewCatalog("", nil)
	if err != nil {
		t.Fatalf("new catalog: %v", err)
	}
	if got := catalog.StatusText(StatusReceived); !strings.HasPrefix(got, "📬") {
		t.Fatalf("unexpected received text: %q", got)
	}
	reply := catalog.ReplyText(42, "ваш вопрос решён")
	if !strings.Contains(reply, "#42") || !strings.Contains(reply, "ваш вопрос решён") {
		t.Fatalf("unexpected reply text: %q", reply)
	}
	if catalog.ReopenButtonLabel() != "Не решено" {
		t.Fatalf("unexpected reopen label: %q", catalog.ReopenButtonLabel())
	}
}

func TestCatalogMissingOverrideFileUsesDefaults(t *testing.T) {
	catalog, err := NewCatalog(filepath.Join(t.TempDir(), "absent.yaml"), nil)
	if err != nil {
		t.Fatalf("missing override file must not be an error: %v", err)
	}
	if got := catalog.StatusText(StatusDeclined); !strings.Contains(got, "отклонено") {
		t.Fatalf("unexpected declined text: %q", got)
	}
}

func TestCatalogOverridesSubset(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	override := "status_done: \"Request completed\"\nreopen_button: \"Still broken\"\n"
	if err := os.WriteFile(path, []byte(override), 0o644); err != nil {
		t.Fatalf("write override: %v", err)
	}
	catalog, err := NewCatalog(path, nil)
	if err != nil {
		t.Fatalf("new catalog: %v", err)
	}
	done := catalog.StatusText(StatusDone)
	if !strings.Contains(done, "Request completed") {
		t.Fatalf("override must replace the done text: %q", done)
	}
	if catalog.ReopenButtonLabel() != "Still broken" {
		t.Fatalf("override must replace the button label: %q", catalog.ReopenButtonLabel())
	}
	// Entries absent from the override keep their defaults.
	if got := catalog.StatusText(StatusReceived); !strings.Contains(got, "получено в работу") {
		t.Fatalf("untouched entry must keep its default: %q", got)
	}
}

func TestCatalogRejectsMalformedOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	if err := os.WriteFile(path, []byte("status_done: [unterminated"), 0o644); err != nil {
		t.Fatalf("write override: %v", err)
	}
	if _, err := NewCatalog(path, nil); err == nil {
		t.Fatalf("malformed override must fail catalog construction")
	}
}

func TestCatalogReloadPicksUpChanges(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	if err := os.WriteFile(path, []byte("status_done: \"v1\"\n"), 0o644); err != nil {
		t.Fatalf("write override: %v", err)
	}
	catalog, err := NewCatalog(path, nil)
	if err != nil {
		t.Fatalf("new catalog: %v", err)
	}
	if got := catalog.StatusText(StatusDone); !strings.Contains(got, "v1") {
		t.Fatalf("expected v1 text, got %q", got)
	}
	if err := os.WriteFile(path, []byte("status_done: \"v2\"\n"), 0o644); err != nil {
		t.Fatalf("rewrite override: %v", err)
	}
	if err := catalog.reload(); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if got := catalog.StatusText(StatusDone); !strings.Contains(got, "v2") {
		t.Fatalf("expected reloaded v2 text, got %q", got)
	}
}
