package memory

import (
	"context"
	"strings"
	"testing"
)

func TestBlobStorePutObjectCopiesData(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	uri, err := store.PutObject(context.Background(), "digests/2024-01-02.html", "text/html", strings.NewReader("<h1>hi</h1>"))
	if err != nil {
		t.Fatalf("PutObject() error = %v", err)
	}
	if uri != "memory://digests/2024-01-02.html" {
		t.Fatalf("unexpected uri %s", uri)
	}

	obj, ok := store.Object("digests/2024-01-02.html")
	if !ok {
		t.Fatal("expected object to be stored")
	}
	if obj.ContentType != "text/html" || string(obj.Data) != "<h1>hi</h1>" {
		t.Fatalf("unexpected object %+v", obj)
	}
	obj.Data[0] = 'X'
	again, _ := store.Object("digests/2024-01-02.html")
	if string(again.Data) != "<h1>hi</h1>" {
		t.Fatalf("expected stored copy to be immutable, got %q", again.Data)
	}
}

func TestBlobStoreOverwriteAndPaths(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	ctx := context.Background()
	for _, p := range []string{"b.html", "a.html", "b.html"} {
		if _, err := store.PutObject(ctx, p, "text/html", strings.NewReader(p)); err != nil {
			t.Fatalf("PutObject(%s) error = %v", p, err)
		}
	}
	paths := store.Paths()
	if len(paths) != 2 || paths[0] != "a.html" || paths[1] != "b.html" {
		t.Fatalf("unexpected paths %v", paths)
	}
	if _, err := store.PutObject(ctx, "", "text/html", strings.NewReader("x")); err == nil {
		t.Fatal("expected error for empty path")
	}
}
