// pkg/frontend/frontend_test.go
package frontend

import (
	"testing"
	"time"

	"github.com/juju/errors"

	"opdoc/pkg/backend"
	"opdoc/pkg/types"
)

func wired(actor string) *Document {
	return Init(Options{ActorID: actor, Backend: backend.Init(backend.Options{})})
}

func mustChange(t *testing.T, d *Document, message string, fn func(*Mutation) error) (*Document, *types.Request) {
	t.Helper()
	out, req, err := Change(d, message, fn)
	if err != nil {
		t.Fatalf("Change(%q) failed: %v", message, err)
	}
	return out, req
}

// syncInto feeds every change the source knows and the target lacks
// through the target's backend.
func syncInto(t *testing.T, target, source *Document) *Document {
	t.Helper()
	changes := backend.GetMissingChanges(source.BackendState(), backend.Clock(target.BackendState()))
	out, _, err := ApplyChanges(target, changes)
	if err != nil {
		t.Fatalf("ApplyChanges failed: %v", err)
	}
	return out
}

func TestChangeSetsPrimitives(t *testing.T) {
	d := wired("A")
	d, req := mustChange(t, d, "init", func(mu *Mutation) error {
		root := mu.Root()
		if err := root.Set("title", "hello"); err != nil {
			return err
		}
		if err := root.Set("count", 3); err != nil {
			return err
		}
		return root.Set("done", false)
	})
	if req == nil || req.Seq != 1 || req.Message != "init" {
		t.Fatalf("request = %+v", req)
	}

	root := d.Root()
	if v, _ := root.Get("title"); v != "hello" {
		t.Errorf("title = %v", v)
	}
	if v, _ := root.Get("count"); v != 3.0 {
		t.Errorf("count = %v, want canonical float64 3", v)
	}
	if v, _ := root.Get("done"); v != false {
		t.Errorf("done = %v", v)
	}
	if d.Seq() != 1 || d.PendingRequests() != 0 {
		t.Errorf("seq/pending = %d/%d, want 1/0", d.Seq(), d.PendingRequests())
	}
}

func TestChangeWithNoEditsIsNoOp(t *testing.T) {
	d := wired("A")
	out, req, err := Change(d, "nothing", func(mu *Mutation) error { return nil })
	if err != nil {
		t.Fatalf("Change failed: %v", err)
	}
	if req != nil {
		t.Errorf("empty session produced request %+v", req)
	}
	if out != d {
		t.Error("empty session should return the same document")
	}
}

func TestNestedLiterals(t *testing.T) {
	d := wired("A")
	d, _ = mustChange(t, d, "nest", func(mu *Mutation) error {
		return mu.Root().Set("config", map[string]any{
			"name":  "doc",
			"tags":  []any{"a", "b"},
			"limit": 10,
		})
	})

	cfg, ok := d.Root().Get("config")
	if !ok {
		t.Fatal("config missing")
	}
	m, ok := cfg.(*Map)
	if !ok {
		t.Fatalf("config is %T, want *Map", cfg)
	}
	if v, _ := m.Get("name"); v != "doc" {
		t.Errorf("name = %v", v)
	}
	if v, _ := m.Get("limit"); v != 10.0 {
		t.Errorf("limit = %v", v)
	}
	tagsAny, _ := m.Get("tags")
	tags, ok := tagsAny.(*List)
	if !ok {
		t.Fatalf("tags is %T, want *List", tagsAny)
	}
	if tags.Len() != 2 {
		t.Fatalf("tags.Len() = %d", tags.Len())
	}
	if v, _ := tags.Get(0); v != "a" {
		t.Errorf("tags[0] = %v", v)
	}
	if ids := tags.ElemIDs(); len(ids) != 2 || ids[0] == ids[1] {
		t.Errorf("elem ids = %v", ids)
	}
}

func TestListEditing(t *testing.T) {
	d := wired("A")
	d, _ = mustChange(t, d, "make list", func(mu *Mutation) error {
		list, err := mu.Root().SetList("items")
		if err != nil {
			return err
		}
		if err := list.Append("one"); err != nil {
			return err
		}
		if err := list.Append("three"); err != nil {
			return err
		}
		return list.Insert(1, "two")
	})
	d, _ = mustChange(t, d, "edit list", func(mu *Mutation) error {
		list, err := mu.Root().List("items")
		if err != nil {
			return err
		}
		if err := list.Set(2, "THREE"); err != nil {
			return err
		}
		return list.Delete(0)
	})

	itemsAny, _ := d.Root().Get("items")
	items := itemsAny.(*List)
	if items.Len() != 2 {
		t.Fatalf("items.Len() = %d, want 2", items.Len())
	}
	if v, _ := items.Get(0); v != "two" {
		t.Errorf("items[0] = %v", v)
	}
	if v, _ := items.Get(1); v != "THREE" {
		t.Errorf("items[1] = %v", v)
	}
}

func TestTextEditing(t *testing.T) {
	d := wired("A")
	d, _ = mustChange(t, d, "write", func(mu *Mutation) error {
		text, err := mu.Root().SetText("body", "helo")
		if err != nil {
			return err
		}
		return text.Insert(3, "l")
	})
	d, _ = mustChange(t, d, "punctuate", func(mu *Mutation) error {
		text, err := mu.Root().Text("body")
		if err != nil {
			return err
		}
		if err := text.Insert(5, "!!"); err != nil {
			return err
		}
		return text.Delete(5, 1)
	})

	bodyAny, _ := d.Root().Get("body")
	body := bodyAny.(*Text)
	if got := body.String(); got != "hello!" {
		t.Errorf("body = %q, want %q", got, "hello!")
	}
}

func TestTableEditing(t *testing.T) {
	d := wired("A")
	var rowID string
	d, _ = mustChange(t, d, "add row", func(mu *Mutation) error {
		table, err := mu.Root().SetTable("books")
		if err != nil {
			return err
		}
		rowID, err = table.Add(map[string]any{"title": "Sum", "year": 1979})
		return err
	})

	booksAny, _ := d.Root().Get("books")
	books := booksAny.(*Table)
	if books.Len() != 1 {
		t.Fatalf("books.Len() = %d", books.Len())
	}
	rowAny, ok := books.Row(rowID)
	if !ok {
		t.Fatalf("row %s missing", rowID)
	}
	row := rowAny.(*Map)
	if v, _ := row.Get("title"); v != "Sum" {
		t.Errorf("title = %v", v)
	}

	d, _ = mustChange(t, d, "drop row", func(mu *Mutation) error {
		table, err := mu.Root().Table("books")
		if err != nil {
			return err
		}
		return table.Remove(rowID)
	})
	booksAny, _ = d.Root().Get("books")
	if booksAny.(*Table).Len() != 0 {
		t.Errorf("books not empty after remove")
	}
}

func TestTimestampRoundTrip(t *testing.T) {
	when := time.Date(2024, 6, 1, 12, 30, 0, 0, time.UTC)
	d := wired("A")
	d, _ = mustChange(t, d, "stamp", func(mu *Mutation) error {
		return mu.Root().Set("when", when)
	})
	got, _ := d.Root().Get("when")
	ts, ok := got.(time.Time)
	if !ok {
		t.Fatalf("when is %T, want time.Time", got)
	}
	if !ts.Equal(when) {
		t.Errorf("when = %v, want %v", ts, when)
	}
}

func TestConcurrentEditsConvergeWithConflicts(t *testing.T) {
	docA := wired("A")
	docB := wired("B")

	docA, _ = mustChange(t, docA, "a sets", func(mu *Mutation) error {
		return mu.Root().Set("x", 1)
	})
	docB, _ = mustChange(t, docB, "b sets", func(mu *Mutation) error {
		return mu.Root().Set("x", 2)
	})

	docA = syncInto(t, docA, docB)
	docB = syncInto(t, docB, docA)

	for name, d := range map[string]*Document{"A": docA, "B": docB} {
		if v, _ := d.Root().Get("x"); v != 2.0 {
			t.Errorf("replica %s: x = %v, want 2 (B wins)", name, v)
		}
		conflicts := d.Root().Conflicts("x")
		if len(conflicts) != 1 || conflicts["A"] != 1.0 {
			t.Errorf("replica %s: conflicts = %v, want {A: 1}", name, conflicts)
		}
	}
	if !Equal(docA.Root(), docB.Root()) {
		t.Error("replicas did not converge")
	}
}

func TestUndoRedoThroughFrontend(t *testing.T) {
	d := wired("A")
	d, _ = mustChange(t, d, "set", func(mu *Mutation) error {
		return mu.Root().Set("x", 1)
	})
	if !d.CanUndo() {
		t.Fatal("canUndo should be true")
	}

	d, err := Undo(d, "revert")
	if err != nil {
		t.Fatalf("Undo failed: %v", err)
	}
	if _, ok := d.Root().Get("x"); ok {
		t.Error("x should be gone after undo")
	}
	if !d.CanRedo() {
		t.Fatal("canRedo should be true")
	}

	d, err = Redo(d, "restore")
	if err != nil {
		t.Fatalf("Redo failed: %v", err)
	}
	if v, _ := d.Root().Get("x"); v != 1.0 {
		t.Errorf("x after redo = %v, want 1", v)
	}
}

func TestUndoWithoutBackendFails(t *testing.T) {
	d := Init(Options{ActorID: "A"})
	if _, err := Undo(d, ""); !errors.Is(err, errors.NotSupported) {
		t.Errorf("expected NotSupported, got %v", err)
	}
}

func TestMutationErrors(t *testing.T) {
	d := wired("A")
	_, _, err := Change(d, "bad delete", func(mu *Mutation) error {
		return mu.Root().Delete("missing")
	})
	if !errors.Is(err, errors.NotFound) {
		t.Errorf("expected NotFound, got %v", err)
	}

	_, _, err = Change(d, "bad value", func(mu *Mutation) error {
		return mu.Root().Set("ch", make(chan int))
	})
	if !errors.Is(err, errors.NotValid) {
		t.Errorf("expected NotValid, got %v", err)
	}

	// a failed session leaves the document untouched
	if d.Root().Len() != 0 {
		t.Error("failed sessions must not leak edits")
	}
}

func TestDocumentImmutability(t *testing.T) {
	before := wired("A")
	after, _ := mustChange(t, before, "set", func(mu *Mutation) error {
		return mu.Root().Set("x", 1)
	})
	if before.Root().Len() != 0 {
		t.Error("change modified the prior snapshot")
	}
	if after.Root().Len() != 1 {
		t.Error("change missing from the new snapshot")
	}
	if before.Root() == after.Root() {
		t.Error("root should be a fresh value after a change")
	}
}

func TestStructuralSharingAcrossSnapshots(t *testing.T) {
	d := wired("A")
	d, _ = mustChange(t, d, "two subtrees", func(mu *Mutation) error {
		if _, err := mu.Root().SetMap("left"); err != nil {
			return err
		}
		_, err := mu.Root().SetMap("right")
		return err
	})
	leftBefore, _ := d.Root().Get("left")
	rightBefore, _ := d.Root().Get("right")

	d2, _ := mustChange(t, d, "touch left", func(mu *Mutation) error {
		left, err := mu.Root().Map("left")
		if err != nil {
			return err
		}
		return left.Set("k", 1)
	})
	leftAfter, _ := d2.Root().Get("left")
	rightAfter, _ := d2.Root().Get("right")

	if leftBefore == leftAfter {
		t.Error("modified subtree should be a fresh value")
	}
	if rightBefore != rightAfter {
		t.Error("untouched subtree should keep its identity")
	}
}
