package flow

import "testing"

func TestRingOverwritesOldest(t *testing.T) {
	r := NewRing(2)
	r.Push(Record{ID: "a"})
	r.Push(Record{ID: "b"})
	r.Push(Record{ID: "c"})

	got := r.List()
	if len(got) != 2 {
		t.Fatalf("expected 2 records, got %d", len(got))
	}
	if got[0].ID != "b" || got[1].ID != "c" {
		t.Fatalf("expected [b c], got %v", []string{got[0].ID, got[1].ID})
	}
}

func TestRingSkipsBookmarkedOnEviction(t *testing.T) {
	r := NewRing(2)
	r.Push(Record{ID: "a"})
	r.Bookmark("a", true)
	r.Push(Record{ID: "b"})
	r.Push(Record{ID: "c"})

	ids := map[string]bool{}
	for _, rec := range r.List() {
		ids[rec.ID] = true
	}
	if !ids["a"] {
		t.Fatal("bookmarked record a was evicted")
	}
}

func TestRingMirrorCalledPerPush(t *testing.T) {
	r := NewRing(5)
	var seen []string
	r.SetMirror(func(rec Record) { seen = append(seen, rec.ID) })

	r.Push(Record{ID: "a"})
	r.Push(Record{ID: "b"})

	if len(seen) != 2 || seen[0] != "a" || seen[1] != "b" {
		t.Fatalf("unexpected mirror calls: %v", seen)
	}
}

func TestRingBookmarkUnknownID(t *testing.T) {
	r := NewRing(2)
	r.Push(Record{ID: "a"})
	if r.Bookmark("missing", true) {
		t.Fatal("expected Bookmark to report false for unknown id")
	}
}
