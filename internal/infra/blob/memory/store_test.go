package memory

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"spectramerge/internal/blob/core"
)

func TestStore_RoundTripAndOverwrite(t *testing.T) {
	store := New()
	ctx := context.Background()
	if _, _, err := store.Get(ctx, "missing"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := store.Put(ctx, "k1", bytes.NewBufferString("one"), core.PutOptions{ContentType: "text/csv", Metadata: map[string]string{"rows": "1"}}); err != nil {
		t.Fatalf("put: %v", err)
	}
	info, err := store.Put(ctx, "k1", bytes.NewBufferString("two!"), core.PutOptions{ContentType: "text/csv"})
	if err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	if info.Size != 4 {
		t.Fatalf("unexpected size %d", info.Size)
	}
	_, rc, err := store.Get(ctx, "k1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	b, _ := io.ReadAll(rc)
	if string(b) != "two!" || string(store.Bytes("k1")) != "two!" {
		t.Fatalf("unexpected payload %q", b)
	}
	if store.Bytes("nope") != nil {
		t.Fatalf("expected nil bytes for missing key")
	}
}

func TestStore_ListPrefixSortedAndDelete(t *testing.T) {
	store := New()
	ctx := context.Background()
	for _, k := range []string{"b/2", "a/1", "b/1"} {
		if _, err := store.Put(ctx, k, bytes.NewBufferString(k), core.PutOptions{}); err != nil {
			t.Fatalf("put %s: %v", k, err)
		}
	}
	list, err := store.List(ctx, "b/")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 || list[0].Key != "b/1" || list[1].Key != "b/2" {
		t.Fatalf("unexpected list %+v", list)
	}
	if ok, _ := store.Delete(ctx, "a/1"); !ok {
		t.Fatalf("expected delete to report existing key")
	}
	if ok, _ := store.Delete(ctx, "a/1"); ok {
		t.Fatalf("expected second delete to report missing")
	}
	if _, err := store.Put(ctx, " ", bytes.NewBufferString(""), core.PutOptions{}); err == nil {
		t.Fatalf("expected empty key error")
	}
}
