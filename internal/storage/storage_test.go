package storage

import (
	"context"
	"errors"
	"testing"
)

func newTestDisk(t *testing.T) *Disk {
	t.Helper()
	d, err := NewDisk(t.TempDir())
	if err != nil {
		t.Fatalf("new disk: %v", err)
	}
	return d
}

func Test_Disk_PutGetRoundTrip(t *testing.T) {
	t.Parallel()
	d := newTestDisk(t)
	ctx := context.Background()

	if err := d.Put(ctx, "documents/doc-1.pdf", []byte("pdf bytes")); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, err := d.Get(ctx, "documents/doc-1.pdf")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(got) != "pdf bytes" {
		t.Errorf("got %q", got)
	}
}

func Test_Disk_PutOverwrites(t *testing.T) {
	t.Parallel()
	d := newTestDisk(t)
	ctx := context.Background()

	if err := d.Put(ctx, "k", []byte("first")); err != nil {
		t.Fatal(err)
	}
	if err := d.Put(ctx, "k", []byte("second")); err != nil {
		t.Fatal(err)
	}
	got, err := d.Get(ctx, "k")
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "second" {
		t.Errorf("want last write to win, got %q", got)
	}
}

func Test_Disk_GetMissing(t *testing.T) {
	t.Parallel()
	d := newTestDisk(t)

	_, err := d.Get(context.Background(), "missing/key")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func Test_Disk_DeleteIdempotent(t *testing.T) {
	t.Parallel()
	d := newTestDisk(t)
	ctx := context.Background()

	if err := d.Put(ctx, "k", []byte("x")); err != nil {
		t.Fatal(err)
	}
	if err := d.Delete(ctx, "k"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := d.Delete(ctx, "k"); err != nil {
		t.Fatalf("second delete: %v", err)
	}
	if _, err := d.Get(ctx, "k"); !errors.Is(err, ErrNotFound) {
		t.Errorf("want ErrNotFound after delete, got %v", err)
	}
}

func Test_Disk_RejectsEscapingKeys(t *testing.T) {
	t.Parallel()
	d := newTestDisk(t)
	ctx := context.Background()

	for _, key := range []string{"", "/abs", "../outside", "a/../../outside"} {
		if err := d.Put(ctx, key, []byte("x")); err == nil {
			t.Errorf("key %q: expected rejection", key)
		}
	}
}
