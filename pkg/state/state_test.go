package state

import (
	"errors"
	"testing"
)

func TestFilesNeverShrink(t *testing.T) {
	s := New()
	if err := s.ReplaceFiles(map[string]string{"a.ts": "1", "b.ts": "2"}); err != nil {
		t.Fatal(err)
	}

	err := s.ReplaceFiles(map[string]string{"a.ts": "3"})
	if !errors.Is(err, ErrFilesShrink) {
		t.Fatalf("got %v, want ErrFilesShrink", err)
	}
	if s.FileCount() != 2 {
		t.Errorf("rejected replacement must leave state intact, got %d files", s.FileCount())
	}

	if err := s.ReplaceFiles(map[string]string{"a.ts": "3", "b.ts": "2", "c.ts": "4"}); err != nil {
		t.Fatal(err)
	}
	if got := s.Files()["a.ts"]; got != "3" {
		t.Errorf("got %q, want %q", got, "3")
	}
}

func TestFilesReturnsCopy(t *testing.T) {
	s := New()
	_ = s.ReplaceFiles(map[string]string{"a": "1"})

	files := s.Files()
	files["a"] = "mutated"
	files["z"] = "new"

	if s.Files()["a"] != "1" || s.FileCount() != 1 {
		t.Errorf("external mutation leaked into state: %v", s.Files())
	}
}

func TestReplaceFilesNil(t *testing.T) {
	if err := New().ReplaceFiles(nil); err == nil {
		t.Error("expected error for nil mapping")
	}
}

func TestSummaryImmutable(t *testing.T) {
	s := New()
	if s.HasSummary() {
		t.Fatal("new state should have no summary")
	}
	if err := s.SetSummary("<task_summary>done</task_summary>"); err != nil {
		t.Fatal(err)
	}
	if err := s.SetSummary("again"); !errors.Is(err, ErrSummaryAlreadySet) {
		t.Errorf("got %v, want ErrSummaryAlreadySet", err)
	}
	got, ok := s.Summary()
	if !ok || got != "<task_summary>done</task_summary>" {
		t.Errorf("got %q, %v", got, ok)
	}
}

func TestMergeFilesLastWriteWins(t *testing.T) {
	base := map[string]string{"app/page.tsx": "old", "keep.ts": "k"}
	merged := MergeFiles(base, []File{
		{Path: "app/page.tsx", Content: "v1"},
		{Path: "new.ts", Content: "n"},
		{Path: "app/page.tsx", Content: "v2"},
	})

	if merged["app/page.tsx"] != "v2" {
		t.Errorf("got %q, want v2", merged["app/page.tsx"])
	}
	if merged["keep.ts"] != "k" || merged["new.ts"] != "n" {
		t.Errorf("unexpected merge result: %v", merged)
	}
	if base["app/page.tsx"] != "old" || len(base) != 2 {
		t.Errorf("base was modified: %v", base)
	}
}

func TestSnapshotAndPaths(t *testing.T) {
	s := New()
	_ = s.ReplaceFiles(map[string]string{"b": "2", "a": "1"})
	_ = s.SetSummary("sum")

	snap := s.Snapshot()
	if snap.Summary != "sum" || len(snap.Files) != 2 {
		t.Errorf("unexpected snapshot: %+v", snap)
	}
	paths := s.Paths()
	if len(paths) != 2 || paths[0] != "a" || paths[1] != "b" {
		t.Errorf("got %v, want sorted paths", paths)
	}
}
