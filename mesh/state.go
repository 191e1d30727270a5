package mesh

import (
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// JobStatus is the lifecycle of a registration job.
type JobStatus string

const (
	JobPending JobStatus = "pending"
	JobRunning JobStatus = "running"
	JobDone    JobStatus = "done"
	JobFailed  JobStatus = "failed"
)

// JobState is what the HTTP layer reports for one job.
type JobState struct {
	ID     string        `json:"id"`
	Status JobStatus     `json:"status"`
	Error  string        `json:"error,omitempty"`
	Record *ResultRecord `json:"record,omitempty"`
}

// ResultTracker keeps the latest result and meshes per job for the HTTP
// endpoints and previews.
type ResultTracker struct {
	mu       sync.RWMutex
	jobs     map[string]*JobState
	models   map[string]*Mesh
	scenes   map[string]*Mesh
	cacheDir string // empty disables persistence
}

// NewResultTracker creates an in-memory tracker.
func NewResultTracker() *ResultTracker {
	return &ResultTracker{
		jobs:   make(map[string]*JobState),
		models: make(map[string]*Mesh),
		scenes: make(map[string]*Mesh),
	}
}

// NewResultTrackerWithCache creates a tracker that saves every finished
// record under dir and loads existing records on creation.
func NewResultTrackerWithCache(dir string) *ResultTracker {
	rt := NewResultTracker()
	rt.cacheDir = dir
	if dir == "" {
		return rt
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return rt
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		rec, err := LoadResult(filepath.Join(dir, e.Name()))
		if err != nil || rec == nil {
			log.Printf("Skipping cached result %s: %v", e.Name(), err)
			continue
		}
		rt.jobs[rec.JobID] = &JobState{ID: rec.JobID, Status: JobDone, Record: rec}
	}
	return rt
}

// Start marks a job as running and stores its meshes.
func (rt *ResultTracker) Start(jobID string, model, scene *Mesh) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.jobs[jobID] = &JobState{ID: jobID, Status: JobRunning}
	rt.models[jobID] = model
	rt.scenes[jobID] = scene
}

// Finish stores a finished record and persists it when caching is enabled.
func (rt *ResultTracker) Finish(rec *ResultRecord) {
	rt.mu.Lock()
	status := JobDone
	if rec.Result.Failed {
		status = JobFailed
	}
	rt.jobs[rec.JobID] = &JobState{ID: rec.JobID, Status: status, Error: rec.Result.Reason, Record: rec}
	dir := rt.cacheDir
	rt.mu.Unlock()

	if dir != "" {
		if err := SaveResult(ResultPath(dir, rec.JobID), rec); err != nil {
			log.Printf("Failed to cache result for %s: %v", rec.JobID, err)
		}
	}
}

// Fail records a job that stopped with an error before producing a result.
func (rt *ResultTracker) Fail(jobID string, err error) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.jobs[jobID] = &JobState{ID: jobID, Status: JobFailed, Error: err.Error()}
}

// Get returns a copy of the job state.
func (rt *ResultTracker) Get(jobID string) (JobState, bool) {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	js, ok := rt.jobs[jobID]
	if !ok {
		return JobState{}, false
	}
	return *js, true
}

// List returns copies of all job states sorted by ID.
func (rt *ResultTracker) List() []JobState {
	rt.mu.RLock()
	defer rt.mu.RUnlock()

	out := make([]JobState, 0, len(rt.jobs))
	for _, js := range rt.jobs {
		out = append(out, *js)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Meshes returns the model and scene stored for a job.
func (rt *ResultTracker) Meshes(jobID string) (model, scene *Mesh, ok bool) {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	model, ok1 := rt.models[jobID]
	scene, ok2 := rt.scenes[jobID]
	return model, scene, ok1 && ok2
}

// HasResults returns true if at least one job finished.
func (rt *ResultTracker) HasResults() bool {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	for _, js := range rt.jobs {
		if js.Record != nil {
			return true
		}
	}
	return false
}
