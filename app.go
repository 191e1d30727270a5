package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/kwv/meshreg/mesh"
)

const defaultConfigFile = "config.yaml"

// App encapsulates the application state and dependencies
type App struct {
	Config     *mesh.Config
	Tracker    *mesh.ResultTracker
	MQTTClient *mesh.MQTTClient
	Publisher  *mesh.Publisher
	Out        io.Writer

	opts  AppOptions
	queue chan mesh.JobRequest

	// pubMu guards Publisher once the worker and MQTT callbacks run.
	pubMu sync.RWMutex
}

// NewApp creates a new App instance
func NewApp() *App {
	return &App{
		Tracker: mesh.NewResultTracker(),
		Out:     os.Stdout,
	}
}

// ApplyOptions applies CLI options to the App instance
func (a *App) ApplyOptions(opts AppOptions) {
	a.opts = opts
}

// loadConfig reads the config file once. A missing default config file is
// not an error: every setting has a default.
func (a *App) loadConfig() error {
	if a.Config != nil {
		return nil
	}
	configFile := a.opts.ConfigFile
	if configFile == "" {
		configFile = defaultConfigFile
	}

	config, err := mesh.LoadConfig(configFile)
	if err != nil {
		if _, statErr := os.Stat(configFile); !errors.Is(statErr, fs.ErrNotExist) || configFile != defaultConfigFile {
			return fmt.Errorf("failed to load config: %w", err)
		}
		log.Printf("No %s found, using defaults", configFile)
		config = &mesh.Config{}
	} else {
		log.Printf("Loaded config from %s", configFile)
	}

	config.ApplyEnv()
	if a.opts.ResultsDir != "" {
		config.ResultsDir = a.opts.ResultsDir
	}
	if config.ResultsDir != "" {
		a.Tracker = mesh.NewResultTrackerWithCache(config.ResultsDir)
	}
	a.Config = config
	return nil
}

// flagOverride turns registration flags into a config overlay.
func (a *App) flagOverride() *mesh.RegistrationConfig {
	o := &mesh.RegistrationConfig{
		WeightPolicy:  a.opts.Policy,
		MaxIter:       a.opts.MaxIter,
		NPer:          a.opts.NPer,
		Seed:          a.opts.Seed,
		Parallel:      a.opts.Parallel,
		Workers:       a.opts.Workers,
		FineMatching:  a.opts.Fine,
		OverlapFilter: a.opts.Overlap,
		Verbose:       a.opts.Verbose,
	}
	if a.opts.Initial != "" {
		// already validated by run
		o.Initial, _ = parseParams(a.opts.Initial)
	}
	return o
}

// icpConfig layers config file, flags and a per-request override, in that
// order, over the defaults.
func (a *App) icpConfig(override *mesh.RegistrationConfig) (mesh.ICPConfig, error) {
	rc := a.Config.Registration.Merge(a.flagOverride()).Merge(override)
	cfg, err := rc.ICPConfig()
	if err != nil {
		return cfg, fmt.Errorf("registration config: %w", err)
	}
	if a.opts.InitialFile != "" && (override == nil || len(override.Initial) == 0) {
		t, err := mesh.ReadTransformFile(a.opts.InitialFile)
		if err != nil {
			return cfg, fmt.Errorf("initial transform: %w", err)
		}
		cfg.Initial = t
	}
	return cfg, nil
}

// jobIDFromSource derives a job ID from a mesh path or URL.
func jobIDFromSource(source string) string {
	base := path.Base(filepath.ToSlash(source))
	if id := strings.TrimSuffix(base, path.Ext(base)); id != "" && id != "." && id != "/" {
		return id
	}
	return "job"
}

// resolveJob picks the job named on the command line.
func (a *App) resolveJob() (mesh.JobConfig, error) {
	return a.jobFor(a.opts.JobID, a.opts.Model, a.opts.Scene)
}

// jobFor resolves an ID against the config file; explicit model and scene
// win over the configured ones.
func (a *App) jobFor(id, model, scene string) (mesh.JobConfig, error) {
	job := mesh.JobConfig{ID: id, Model: model, Scene: scene}
	if id != "" {
		if configured, ok := a.Config.FindJob(id); ok {
			job = configured
			if model != "" {
				job.Model = model
			}
			if scene != "" {
				job.Scene = scene
			}
		} else if model == "" || scene == "" {
			return job, fmt.Errorf("job %q not found in config", id)
		}
	}
	if job.Model == "" || job.Scene == "" {
		return job, fmt.Errorf("need a job ID or both a model and a scene")
	}
	if job.ID == "" {
		job.ID = jobIDFromSource(job.Model)
	}
	return job, nil
}

// loadMeshes fetches model and scene concurrently.
func (a *App) loadMeshes(ctx context.Context, job mesh.JobConfig) (model, scene *mesh.Mesh, err error) {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		m, err := mesh.LoadMeshWithContext(gctx, job.Model)
		if err != nil {
			return fmt.Errorf("model: %w", err)
		}
		model = m
		return nil
	})
	g.Go(func() error {
		m, err := mesh.LoadMeshWithContext(gctx, job.Scene)
		if err != nil {
			return fmt.Errorf("scene: %w", err)
		}
		scene = m
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	for _, part := range []struct {
		role string
		m    *mesh.Mesh
	}{{"model", model}, {"scene", scene}} {
		if problems := part.m.Validate(); len(problems) > 0 {
			log.Printf("Warning: %s %s has %d mesh problems, first: %s", job.ID, part.role, len(problems), problems[0])
		}
		if a.opts.Curvature {
			if err := mesh.AttachCurvatureFeatures(part.m); err != nil {
				return nil, nil, fmt.Errorf("%s features: %w", part.role, err)
			}
		}
	}
	return model, scene, nil
}

// runJob loads, registers, records and publishes one job. A record is
// returned whenever registration ran, even when it failed.
func (a *App) runJob(ctx context.Context, job mesh.JobConfig, override *mesh.RegistrationConfig) (*mesh.ResultRecord, error) {
	cfg, err := a.icpConfig(override)
	if err != nil {
		a.failJob(job.ID, err)
		return nil, err
	}

	model, scene, err := a.loadMeshes(ctx, job)
	if err != nil {
		err = fmt.Errorf("loading %s: %w", job.ID, err)
		a.failJob(job.ID, err)
		return nil, err
	}
	a.Tracker.Start(job.ID, model, scene)
	log.Printf("Registering %s: model %d vertices, scene %d vertices, policy %s, %d restarts",
		job.ID, len(model.Vertices), len(scene.Vertices), cfg.Policy, cfg.NPer)

	start := time.Now()
	res, regErr := mesh.Register(ctx, model, scene, cfg)
	rec := mesh.NewResultRecord(job, res, time.Since(start))
	a.Tracker.Finish(rec)

	if pub := a.publisher(); pub != nil {
		if err := pub.PublishResult(rec); err != nil {
			log.Printf("Error publishing result for %s: %v", job.ID, err)
		}
	}
	if regErr != nil {
		return rec, fmt.Errorf("registering %s: %w", job.ID, regErr)
	}
	return rec, nil
}

func (a *App) publisher() *mesh.Publisher {
	a.pubMu.RLock()
	defer a.pubMu.RUnlock()
	return a.Publisher
}

func (a *App) setPublisher(p *mesh.Publisher) {
	a.pubMu.Lock()
	a.Publisher = p
	a.pubMu.Unlock()
}

func (a *App) failJob(jobID string, err error) {
	log.Printf("Job %s failed: %v", jobID, err)
	a.Tracker.Fail(jobID, err)
	if pub := a.publisher(); pub != nil {
		if perr := pub.PublishError(jobID, err); perr != nil {
			log.Printf("Error publishing failure for %s: %v", jobID, perr)
		}
	}
}

func (a *App) printResult(rec *mesh.ResultRecord) {
	r := rec.Result
	status := "converged"
	switch {
	case r.Failed:
		status = "FAILED"
	case !r.Converged:
		status = "not converged"
	}
	p := rec.Params
	fmt.Fprintf(a.Out, "=== %s ===\n", rec.JobID)
	fmt.Fprintf(a.Out, "Status:      %s (%s)\n", status, r.Reason)
	fmt.Fprintf(a.Out, "Translation: %.6f %.6f %.6f\n", p[0], p[1], p[2])
	fmt.Fprintf(a.Out, "Rotation:    %.6f %.6f %.6f (deg)\n", p[3], p[4], p[5])
	fmt.Fprintf(a.Out, "Error:       %.6g\n", r.Error)
	fmt.Fprintf(a.Out, "Iterations:  %d over %d trials, %d pairs\n", r.Iterations, r.Trials, len(r.Pairs))
	fmt.Fprintf(a.Out, "Took:        %.2fs\n", rec.Duration)
}

func (a *App) writeOutputs(rec *mesh.ResultRecord) error {
	if rec.Result.Failed {
		return nil
	}
	if a.opts.TransformOut != "" {
		if err := mesh.WriteTransformFile(a.opts.TransformOut, rec.Result.Transform); err != nil {
			return err
		}
		fmt.Fprintf(a.Out, "Transform written to %s\n", a.opts.TransformOut)
	}
	if a.opts.MatchesOut != "" {
		if err := mesh.WriteMatchesFile(a.opts.MatchesOut, rec.Result.Pairs); err != nil {
			return err
		}
		fmt.Fprintf(a.Out, "%d matches written to %s\n", len(rec.Result.Pairs), a.opts.MatchesOut)
	}
	return nil
}

// register runs the command-line job and writes the requested outputs.
func (a *App) register(ctx context.Context) (mesh.JobConfig, *mesh.ResultRecord, error) {
	if err := a.loadConfig(); err != nil {
		return mesh.JobConfig{}, nil, err
	}
	job, err := a.resolveJob()
	if err != nil {
		return job, nil, err
	}
	rec, err := a.runJob(ctx, job, nil)
	if rec != nil {
		a.printResult(rec)
		if werr := a.writeOutputs(rec); werr != nil {
			return job, rec, werr
		}
	}
	return job, rec, err
}

// RunRegister registers one model/scene pair
func (a *App) RunRegister() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	_, _, err := a.register(ctx)
	return err
}

// RunBatch runs every configured job in order
func (a *App) RunBatch() error {
	if err := a.loadConfig(); err != nil {
		return err
	}
	if len(a.Config.Jobs) == 0 {
		return fmt.Errorf("no jobs configured in %s", a.opts.ConfigFile)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var errs error
	done := 0
	for _, job := range a.Config.Jobs {
		if ctx.Err() != nil {
			errs = multierr.Append(errs, ctx.Err())
			break
		}
		rec, err := a.runJob(ctx, job, nil)
		if rec != nil {
			a.printResult(rec)
		}
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		done++
	}
	fmt.Fprintf(a.Out, "\n%d of %d jobs registered\n", done, len(a.Config.Jobs))
	return errs
}

// RunInspect prints a summary and the validation report of one mesh
func (a *App) RunInspect(source string) error {
	m, err := mesh.LoadMesh(source)
	if err != nil {
		return err
	}

	boundaryEdges, boundaryVertices := 0, 0
	for _, e := range m.Edges {
		if e.Boundary {
			boundaryEdges++
		}
	}
	for _, v := range m.Vertices {
		if v.Boundary {
			boundaryVertices++
		}
	}
	box := m.BoundingBox()

	fmt.Fprintf(a.Out, "=== %s ===\n", source)
	fmt.Fprintf(a.Out, "Vertices:   %d (%d on the boundary)\n", len(m.Vertices), boundaryVertices)
	fmt.Fprintf(a.Out, "Faces:      %d\n", len(m.Faces))
	fmt.Fprintf(a.Out, "Edges:      %d (%d on the boundary)\n", len(m.Edges), boundaryEdges)
	fmt.Fprintf(a.Out, "Boundaries: %d loops\n", len(mesh.BoundaryLoops(m)))
	fmt.Fprintf(a.Out, "Resolution: %.6g (median edge length)\n", m.Resolution())
	fmt.Fprintf(a.Out, "Bounds:     (%.4g, %.4g, %.4g) - (%.4g, %.4g, %.4g)\n",
		box.Min.X, box.Min.Y, box.Min.Z, box.Max.X, box.Max.Y, box.Max.Z)

	problems := m.Validate()
	if len(problems) == 0 {
		fmt.Fprintln(a.Out, "Validation: ok")
		return nil
	}
	fmt.Fprintf(a.Out, "Validation: %d problems\n", len(problems))
	const maxShown = 10
	for i, p := range problems {
		if i == maxShown {
			fmt.Fprintf(a.Out, "  ... and %d more\n", len(problems)-maxShown)
			break
		}
		fmt.Fprintf(a.Out, "  - %s\n", p)
	}
	return nil
}

// exportPath returns the -output flag or <job><ext>.
func (a *App) exportPath(jobID, ext string) string {
	if a.opts.OutputFile != "" {
		return a.opts.OutputFile
	}
	return jobID + ext
}

// registeredMeshes runs the command-line job and returns its meshes for
// export.
func (a *App) registeredMeshes() (mesh.JobConfig, *mesh.ResultRecord, *mesh.Mesh, *mesh.Mesh, error) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	job, rec, err := a.register(ctx)
	if err != nil {
		return job, rec, nil, nil, err
	}
	model, scene, ok := a.Tracker.Meshes(job.ID)
	if !ok {
		return job, rec, nil, nil, fmt.Errorf("meshes for %s not available", job.ID)
	}
	return job, rec, model, scene, nil
}

// RunRender registers and writes a preview image
func (a *App) RunRender() error {
	job, rec, model, scene, err := a.registeredMeshes()
	if err != nil {
		return err
	}

	switch a.opts.RenderFormat {
	case "", "raster":
		out := a.exportPath(job.ID, ".png")
		if err := mesh.RenderRegistration(model, scene, rec.Result, a.opts.View, out); err != nil {
			return fmt.Errorf("rendering preview: %w", err)
		}
		fmt.Fprintf(a.Out, "Preview written to %s\n", out)
		return nil
	case "vector":
		ext := "." + a.opts.VectorFormat
		if a.opts.VectorFormat == "" {
			ext = ".svg"
		}
		out := a.exportPath(job.ID, ext)
		if err := writeVectorPreview(model, scene, rec.Result.Transform, a.opts.View, ext, out); err != nil {
			return err
		}
		fmt.Fprintf(a.Out, "Preview written to %s\n", out)
		return nil
	}
	return fmt.Errorf("unknown render format %q (want raster or vector)", a.opts.RenderFormat)
}

func writeVectorPreview(model, scene *mesh.Mesh, t mesh.RigidTransform, plane, ext, out string) error {
	view, err := mesh.ViewMatrix(plane)
	if err != nil {
		return err
	}
	r := mesh.NewVectorRenderer(model, scene, t)
	r.View = view

	if dir := filepath.Dir(out); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating output directory: %w", err)
		}
	}
	f, err := os.Create(out)
	if err != nil {
		return fmt.Errorf("creating output file: %w", err)
	}
	switch ext {
	case ".svg":
		err = r.RenderToSVG(f)
	case ".png":
		err = r.RenderToPNG(f)
	default:
		err = fmt.Errorf("unknown vector format %q (want svg or png)", strings.TrimPrefix(ext, "."))
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return err
}

// RunGeoJSON registers and writes the GeoJSON footprint export
func (a *App) RunGeoJSON() error {
	job, rec, model, scene, err := a.registeredMeshes()
	if err != nil {
		return err
	}
	out := a.exportPath(job.ID, ".geojson")
	fc := mesh.RegistrationGeoJSON(model, scene, rec.Result, a.opts.Tolerance)
	if err := mesh.WriteGeoJSON(out, fc); err != nil {
		return err
	}
	fmt.Fprintf(a.Out, "GeoJSON written to %s (overlap %.1f%%)\n", out, 100*mesh.OverlapRatio(model, scene, rec.Result.Transform))
	return nil
}

// handleJobRequest queues decoded MQTT job requests for the worker.
func (a *App) handleJobRequest(req mesh.JobRequest, err error) {
	if err != nil {
		id := req.ID
		if id == "" {
			id = "unknown"
		}
		a.failJob(id, err)
		return
	}
	select {
	case a.queue <- req:
	default:
		a.failJob(requestID(req), fmt.Errorf("job queue full"))
	}
}

func requestID(req mesh.JobRequest) string {
	if req.ID != "" {
		return req.ID
	}
	return jobIDFromSource(req.Model)
}

// processRequest runs one queued request.
func (a *App) processRequest(ctx context.Context, req mesh.JobRequest) error {
	job, err := a.jobFor(req.ID, req.Model, req.Scene)
	if err != nil {
		a.failJob(requestID(req), err)
		return err
	}
	_, err = a.runJob(ctx, job, req.Override)
	return err
}

// worker runs queued jobs one at a time until ctx is done.
func (a *App) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-a.queue:
			if err := a.processRequest(ctx, req); err != nil {
				log.Printf("Request %s: %v", requestID(req), err)
			}
		}
	}
}

// RunService runs the MQTT job service and/or the HTTP server until
// interrupted
func (a *App) RunService() error {
	fmt.Fprintln(a.Out, "Starting meshreg service...")
	if err := a.loadConfig(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a.queue = make(chan mesh.JobRequest, 16)
	go a.worker(ctx)

	if a.opts.MqttMode {
		client, err := mesh.InitMQTT(a.Config, a.handleJobRequest)
		if err != nil {
			return fmt.Errorf("failed to initialize MQTT: %w", err)
		}
		if client == nil {
			return fmt.Errorf("MQTT broker not configured (set mqtt.broker or MQTT_BROKER)")
		}
		a.MQTTClient = client
		a.setPublisher(mesh.NewPublisher(client.GetClient(), a.Config))
		fmt.Fprintln(a.Out, "MQTT result publisher initialized")
	}

	var srv *http.Server
	if a.opts.HttpMode {
		srv = &http.Server{
			Addr:              fmt.Sprintf(":%d", a.opts.HttpPort),
			Handler:           newHTTPServer(a.Tracker, a.opts.View),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			fmt.Fprintf(a.Out, "HTTP server starting on %s\n", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Printf("HTTP server error: %v", err)
				stop()
			}
		}()
	}

	fmt.Fprintln(a.Out, "\nService Running")
	fmt.Fprintln(a.Out, "===============")
	if a.MQTTClient != nil {
		fmt.Fprintf(a.Out, "\nMQTT:\n  Requests: %s\n", a.MQTTClient.RequestTopic())
		fmt.Fprintln(a.Out, "  Results:  <prefix>/result/{jobID}, <prefix>/results")
	}
	if srv != nil {
		fmt.Fprintf(a.Out, "\nHTTP endpoints (port %d):\n", a.opts.HttpPort)
		fmt.Fprintln(a.Out, "  GET /health              - Health check")
		fmt.Fprintln(a.Out, "  GET /results             - All jobs")
		fmt.Fprintln(a.Out, "  GET /results/{id}        - One job")
		fmt.Fprintln(a.Out, "  GET /preview/{id}.png    - Raster preview")
		fmt.Fprintln(a.Out, "  GET /preview/{id}.svg    - Vector preview")
		fmt.Fprintln(a.Out, "  GET /geojson/{id}        - Footprints and boundaries")
	}
	fmt.Fprintln(a.Out, "\nPress Ctrl+C to stop")

	<-ctx.Done()

	fmt.Fprintln(a.Out, "\nShutting down service...")
	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP shutdown: %v", err)
		}
	}
	if a.MQTTClient != nil {
		a.MQTTClient.Disconnect()
	}
	fmt.Fprintln(a.Out, "Service stopped")
	return nil
}
