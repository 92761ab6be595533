package storage

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestUploadKey(t *testing.T) {
	key, err := UploadKey("user-1", "01HZX", "My Report (final).docx")
	if err != nil {
		t.Fatalf("UploadKey: %v", err)
	}
	if key != "uploads/user-1/01HZX/My_Report_final.docx" {
		t.Fatalf("unexpected key %q", key)
	}

	key, err = UploadKey("", "01HZX", "../../etc/passwd")
	if err != nil {
		t.Fatalf("UploadKey: %v", err)
	}
	if key != "uploads/anonymous/01HZX/passwd" {
		t.Fatalf("expected directories stripped, got %q", key)
	}

	if _, err := UploadKey("a/b", "01HZX", "x.pdf"); err == nil {
		t.Fatalf("expected invalid user segment error")
	}
	if _, err := UploadKey("u", "01HZX", "///"); err == nil {
		t.Fatalf("expected empty filename error")
	}
}

func TestLocalStorePut(t *testing.T) {
	dir := t.TempDir()
	store, err := NewLocalStore(dir, "http://localhost:5000/uploads/")
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}

	obj, err := store.Put(context.Background(), "uploads/u1/abc/file.pdf", "application/pdf", strings.NewReader("%PDF-1.4"))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if obj.URL != "http://localhost:5000/uploads/uploads/u1/abc/file.pdf" || obj.Size != 8 {
		t.Fatalf("unexpected object %+v", obj)
	}
	data, err := os.ReadFile(filepath.Join(dir, "uploads", "u1", "abc", "file.pdf"))
	if err != nil || string(data) != "%PDF-1.4" {
		t.Fatalf("unexpected file contents %q %v", data, err)
	}
	if err := store.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
}

func TestLocalStoreRejectsEscapingKeys(t *testing.T) {
	store, err := NewLocalStore(t.TempDir(), "")
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}
	if _, err := store.Put(context.Background(), "../outside.txt", "text/plain", strings.NewReader("x")); err == nil {
		t.Fatalf("expected traversal to be rejected")
	}
}

func TestPublicURL(t *testing.T) {
	if got := publicURL("bucket", "uploads/u/1/a b.pdf"); got != "https://storage.googleapis.com/bucket/uploads/u/1/a%20b.pdf" {
		t.Fatalf("unexpected url %q", got)
	}
}
