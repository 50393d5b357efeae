package localfs

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/kirillkom/manual-assistant/internal/core/domain"
)

func TestSaveCreatesNestedKeys(t *testing.T) {
	store, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	ctx := context.Background()
	if err := store.Save(ctx, "images/doc-1/0.png", strings.NewReader("png")); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	rc, err := store.Open(ctx, "images/doc-1/0.png")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer rc.Close()
	data, _ := io.ReadAll(rc)
	if string(data) != "png" {
		t.Fatalf("unexpected content %q", data)
	}
}

func TestKeysCannotEscapeBasePath(t *testing.T) {
	store, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	for _, key := range []string{"../x", "/etc/passwd", "", "a/../../b"} {
		if err := store.Save(context.Background(), key, strings.NewReader("x")); !domain.IsKind(err, domain.ErrInvalidInput) {
			t.Fatalf("key %q: expected ErrInvalidInput, got %v", key, err)
		}
	}
}

func TestOpenMissingKey(t *testing.T) {
	store, _ := New(t.TempDir())
	if _, err := store.Open(context.Background(), "nope.docx"); !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}
