package mesh

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

func TestNewResultTracker(t *testing.T) {
	rt := NewResultTracker()
	if rt == nil {
		t.Fatal("NewResultTracker returned nil")
	}
	if rt.HasResults() {
		t.Error("new tracker should have no results")
	}
	if got := rt.List(); len(got) != 0 {
		t.Errorf("List() = %v, want empty", got)
	}
	if _, ok := rt.Get("nope"); ok {
		t.Error("Get on unknown job returned ok")
	}
}

func TestResultTracker_Lifecycle(t *testing.T) {
	rt := NewResultTracker()
	model := tetrahedron(t, IdentityTransform())
	scene := tetrahedron(t, smallMotion)

	rt.Start("bunny", model, scene)
	js, ok := rt.Get("bunny")
	if !ok || js.Status != JobRunning {
		t.Fatalf("after Start: %+v ok=%v", js, ok)
	}
	if rt.HasResults() {
		t.Error("running job counted as a result")
	}
	m, s, ok := rt.Meshes("bunny")
	if !ok || m != model || s != scene {
		t.Error("Meshes did not return the stored meshes")
	}

	rt.Finish(sampleRecord("bunny"))
	js, _ = rt.Get("bunny")
	if js.Status != JobDone || js.Record == nil {
		t.Errorf("after Finish: %+v", js)
	}
	if !rt.HasResults() {
		t.Error("HasResults() = false after Finish")
	}
	// meshes stay available for previews
	if _, _, ok := rt.Meshes("bunny"); !ok {
		t.Error("meshes dropped on Finish")
	}
}

func TestResultTracker_FailedStates(t *testing.T) {
	rt := NewResultTracker()

	rt.Fail("broken", errors.New("opening mesh: no such file"))
	js, _ := rt.Get("broken")
	if js.Status != JobFailed || js.Error != "opening mesh: no such file" {
		t.Errorf("Fail: %+v", js)
	}
	if _, _, ok := rt.Meshes("broken"); ok {
		t.Error("Meshes ok for a job that never started")
	}

	rec := sampleRecord("far")
	rec.Result.Failed = true
	rec.Result.Reason = "all trials failed"
	rt.Finish(rec)
	js, _ = rt.Get("far")
	if js.Status != JobFailed || js.Error != "all trials failed" || js.Record == nil {
		t.Errorf("failed record: %+v", js)
	}
}

func TestResultTracker_ListSorted(t *testing.T) {
	rt := NewResultTracker()
	for _, id := range []string{"c", "a", "b"} {
		rt.Finish(sampleRecord(id))
	}
	got := rt.List()
	if len(got) != 3 || got[0].ID != "a" || got[1].ID != "b" || got[2].ID != "c" {
		t.Errorf("List() order = %v", got)
	}
}

func TestResultTracker_GetReturnsCopy(t *testing.T) {
	rt := NewResultTracker()
	rt.Fail("x", errors.New("boom"))
	js, _ := rt.Get("x")
	js.Status = JobDone
	if again, _ := rt.Get("x"); again.Status != JobFailed {
		t.Error("mutating the returned state changed the tracker")
	}
}

func TestResultTracker_Cache(t *testing.T) {
	dir := t.TempDir()
	rt := NewResultTrackerWithCache(dir)
	rec := sampleRecord("bunny")
	rt.Finish(rec)

	if _, err := os.Stat(ResultPath(dir, "bunny")); err != nil {
		t.Fatalf("record not cached: %v", err)
	}
	// stray files are ignored on reload
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "broken.json"), []byte("{"), 0644); err != nil {
		t.Fatal(err)
	}

	reloaded := NewResultTrackerWithCache(dir)
	js, ok := reloaded.Get("bunny")
	if !ok || js.Status != JobDone || js.Record == nil || js.Record.RunID != rec.RunID {
		t.Errorf("reloaded state = %+v ok=%v", js, ok)
	}
	if n := len(reloaded.List()); n != 1 {
		t.Errorf("reloaded %d jobs, want 1", n)
	}
}

func TestResultTracker_CacheMissingDir(t *testing.T) {
	rt := NewResultTrackerWithCache(filepath.Join(t.TempDir(), "not-yet"))
	if rt.HasResults() {
		t.Error("results from a missing directory")
	}
	rt.Finish(sampleRecord("first"))
	if _, err := os.Stat(ResultPath(rt.cacheDir, "first")); err != nil {
		t.Errorf("Finish did not create the cache directory: %v", err)
	}
}

func TestResultTracker_Concurrency(t *testing.T) {
	rt := NewResultTracker()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("job-%d", i%5)
			rt.Start(id, nil, nil)
			rt.Finish(sampleRecord(id))
			_, _ = rt.Get(id)
			_ = rt.List()
			_ = rt.HasResults()
		}(i)
	}
	wg.Wait()
	if n := len(rt.List()); n != 5 {
		t.Errorf("got %d jobs, want 5", n)
	}
}
