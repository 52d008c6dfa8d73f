package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
	return p
}

func TestLocalStorage_UploadDownload(t *testing.T) {
	store, err := NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}
	ctx := context.Background()
	src := writeFile(t, t.TempDir(), "leave.csv", "Employee_ID,Leave_Days\nEMP1,2\n")

	if err := store.Upload(ctx, src, "datasets/d1/leave.csv"); err != nil {
		t.Fatalf("Upload failed: %v", err)
	}
	exists, err := store.Exists(ctx, "datasets/d1/leave.csv")
	if err != nil || !exists {
		t.Fatalf("expected object to exist, got %v, %v", exists, err)
	}

	dst := filepath.Join(t.TempDir(), "nested", "leave.csv")
	if err := store.Download(ctx, "datasets/d1/leave.csv", dst); err != nil {
		t.Fatalf("Download failed: %v", err)
	}
	got, err := os.ReadFile(dst)
	if err != nil {
		t.Fatalf("failed to read download: %v", err)
	}
	if string(got) != "Employee_ID,Leave_Days\nEMP1,2\n" {
		t.Errorf("content mismatch: %q", got)
	}

	if err := store.Delete(ctx, "datasets/d1/leave.csv"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if err := store.Delete(ctx, "datasets/d1/leave.csv"); err != nil {
		t.Errorf("second Delete should be a no-op, got %v", err)
	}
	exists, _ = store.Exists(ctx, "datasets/d1/leave.csv")
	if exists {
		t.Error("expected object to be gone")
	}
}

func TestLocalStorage_DownloadNotFound(t *testing.T) {
	store, err := NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}
	dst := filepath.Join(t.TempDir(), "out.csv")
	err = store.Download(context.Background(), "missing.csv", dst)
	if !errors.Is(err, ErrObjectNotFound) {
		t.Fatalf("expected ErrObjectNotFound, got %v", err)
	}
	if _, err := os.Stat(dst); !os.IsNotExist(err) {
		t.Error("download of a missing object must not create the destination")
	}
}

func TestLocalStorage_RejectsEscapingPaths(t *testing.T) {
	store, err := NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}
	src := writeFile(t, t.TempDir(), "x.csv", "a\n")
	for _, p := range []string{"../x.csv", "runs/../../x.csv", "", "/"} {
		if err := store.Upload(context.Background(), src, p); !errors.Is(err, ErrInvalidPath) {
			t.Errorf("Upload(%q): expected ErrInvalidPath, got %v", p, err)
		}
	}
}

func TestLocalStorage_ListObjects(t *testing.T) {
	store, err := NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}
	ctx := context.Background()
	src := writeFile(t, t.TempDir(), "x.csv", "a\n")
	for _, p := range []string{"runs/r2/master_df.csv", "runs/r1/anomaly_summary.csv", "latest/master_df.csv"} {
		if err := store.Upload(ctx, src, p); err != nil {
			t.Fatalf("Upload %s: %v", p, err)
		}
	}

	got, err := store.ListObjects(ctx, "runs/")
	if err != nil {
		t.Fatalf("ListObjects failed: %v", err)
	}
	want := []string{"runs/r1/anomaly_summary.csv", "runs/r2/master_df.csv"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}

	got, err = store.ListObjects(ctx, "nothing/")
	if err != nil || len(got) != 0 {
		t.Errorf("expected empty listing, got %v, %v", got, err)
	}
}

func TestCleanPath(t *testing.T) {
	cases := map[string]string{
		"runs/r1/x.csv":     "runs/r1/x.csv",
		"/runs//r1/":        "runs/r1",
		"runs\\r1\\x.csv": "runs/r1/x.csv",
	}
	for in, want := range cases {
		got, err := CleanPath(in)
		if err != nil || got != want {
			t.Errorf("CleanPath(%q) = %q, %v; want %q", in, got, err, want)
		}
	}
}
