package storage

import (
	"context"
	"testing"
)

func TestMemoryStoreCRUD(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	id, err := store.Insert(ctx, Document{"username": "ada", "isActive": true})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if id == "" {
		t.Fatal("expected a generated id")
	}

	doc, err := store.FindByID(ctx, id)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if doc == nil || doc["username"] != "ada" || doc["id"] != id {
		t.Fatalf("unexpected doc: %#v", doc)
	}

	updated, err := store.UpdateByID(ctx, id, Document{"username": "grace", "id": "evil-overwrite"})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated["username"] != "grace" {
		t.Fatalf("update not applied: %#v", updated)
	}
	if updated["id"] != id {
		t.Fatalf("id must be immutable, got %v", updated["id"])
	}
	if updated["isActive"] != true {
		t.Fatalf("untouched field changed: %#v", updated)
	}

	ok, err := store.DeleteByID(ctx, id)
	if err != nil || !ok {
		t.Fatalf("delete: ok=%v err=%v", ok, err)
	}
	ok, err = store.DeleteByID(ctx, id)
	if err != nil || ok {
		t.Fatalf("repeated delete must report absent: ok=%v err=%v", ok, err)
	}
	doc, err = store.FindByID(ctx, id)
	if err != nil || doc != nil {
		t.Fatalf("deleted doc still found: %#v err=%v", doc, err)
	}
}

func TestMemoryStoreAbsentID(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	doc, err := store.FindByID(ctx, "nope")
	if err != nil || doc != nil {
		t.Fatalf("expected nil, nil for absent id: %#v %v", doc, err)
	}
	doc, err = store.UpdateByID(ctx, "nope", Document{"x": 1})
	if err != nil || doc != nil {
		t.Fatalf("expected nil, nil updating absent id: %#v %v", doc, err)
	}
}

func TestMemoryStoreFindWhere(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	if _, err := store.Insert(ctx, Document{"userId": "u-1", "product": "Laptop"}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if _, err := store.Insert(ctx, Document{"userId": "u-2", "product": "Mouse"}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	all, err := store.FindWhere(ctx, nil)
	if err != nil {
		t.Fatalf("find all: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 docs, got %d", len(all))
	}

	mine, err := store.FindWhere(ctx, map[string]string{"userId": "u-1"})
	if err != nil {
		t.Fatalf("find filtered: %v", err)
	}
	if len(mine) != 1 || mine[0]["product"] != "Laptop" {
		t.Fatalf("unexpected filtered docs: %#v", mine)
	}

	none, err := store.FindWhere(ctx, map[string]string{"userId": "u-3"})
	if err != nil {
		t.Fatalf("find empty: %v", err)
	}
	if none == nil || len(none) != 0 {
		t.Fatalf("empty result must be an empty list, got %#v", none)
	}
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	id, _ := store.Insert(ctx, Document{"product": "Laptop"})
	doc, _ := store.FindByID(ctx, id)
	doc["product"] = "tampered"

	again, _ := store.FindByID(ctx, id)
	if again["product"] != "Laptop" {
		t.Fatalf("store leaked its internal document: %#v", again)
	}
}
