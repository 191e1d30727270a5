package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"strings"
)

// Version is set at build time via -ldflags
var Version = "dev"

// AppOptions holds the parsed command line.
type AppOptions struct {
	ConfigFile string
	ResultsDir string

	// job selection
	JobID string
	Model string
	Scene string

	// modes
	RegisterOnly bool
	BatchOnly    bool
	InspectPath  string
	RenderOnly   bool
	GeoJSONOnly  bool
	MqttMode     bool
	HttpMode     bool
	HttpPort     int

	// outputs
	TransformOut string
	MatchesOut   string
	OutputFile   string
	RenderFormat string
	VectorFormat string
	View         string
	Tolerance    float64

	// registration overrides
	Policy      string
	MaxIter     int
	NPer        int
	Seed        int64
	Parallel    int
	Workers     int
	Fine        bool
	Overlap     bool
	Curvature   bool
	Initial     string
	InitialFile string
	Verbose     bool
}

// Runner is the set of modes main can dispatch to.
type Runner interface {
	ApplyOptions(opts AppOptions)
	RunRegister() error
	RunBatch() error
	RunInspect(path string) error
	RunRender() error
	RunGeoJSON() error
	RunService() error
}

func main() {
	err := run(os.Args[1:], os.Stdout, NewApp())
	if errors.Is(err, flag.ErrHelp) {
		os.Exit(0)
	}
	if err != nil {
		log.Fatal(err)
	}
}

// run parses args and dispatches to one mode of app. Usage goes to out.
func run(args []string, out io.Writer, app Runner) error {
	fs := flag.NewFlagSet("meshreg", flag.ContinueOnError)
	fs.SetOutput(out)

	var opts AppOptions
	fs.StringVar(&opts.ConfigFile, "config", "config.yaml", "Path to configuration file")
	fs.StringVar(&opts.ResultsDir, "results-dir", "", "Directory for result records (overrides resultsDir in config)")

	fs.StringVar(&opts.JobID, "job", "", "Run the job with this ID from the config file")
	fs.StringVar(&opts.Model, "model", "", "Model mesh: .wrl/.vrml/.stl file or http(s) URL")
	fs.StringVar(&opts.Scene, "scene", "", "Scene mesh: .wrl/.vrml/.stl file or http(s) URL")

	fs.BoolVar(&opts.RegisterOnly, "register", false, "Register the model onto the scene and exit")
	fs.BoolVar(&opts.BatchOnly, "batch", false, "Run every job in the config file and exit")
	fs.StringVar(&opts.InspectPath, "inspect", "", "Print a summary and validation report for a mesh and exit")
	fs.BoolVar(&opts.RenderOnly, "render", false, "Register and render a preview of the aligned meshes")
	fs.BoolVar(&opts.GeoJSONOnly, "geojson", false, "Register and export footprints and boundaries as GeoJSON")
	fs.BoolVar(&opts.MqttMode, "mqtt", false, "Run MQTT service mode, accepting job requests")
	fs.BoolVar(&opts.HttpMode, "http", false, "Enable HTTP server for results and previews")
	fs.IntVar(&opts.HttpPort, "http-port", 8080, "HTTP server port")

	fs.StringVar(&opts.TransformOut, "transform-out", "", "Write the final transform (tx ty tz rx ry rz) to this file")
	fs.StringVar(&opts.MatchesOut, "matches-out", "", "Write the final model/scene index pairs to this file")
	fs.StringVar(&opts.OutputFile, "output", "", "Output file for -render and -geojson")
	fs.StringVar(&opts.RenderFormat, "format", "raster", "Render format: raster or vector")
	fs.StringVar(&opts.VectorFormat, "vector-format", "svg", "Vector output format: svg or png")
	fs.StringVar(&opts.View, "view", "xy", "Projection plane for previews: xy, xz or yz")
	fs.Float64Var(&opts.Tolerance, "simplify", 0, "Douglas-Peucker tolerance for GeoJSON boundaries (0 keeps every vertex)")

	fs.StringVar(&opts.Policy, "policy", "", "Weight policy: static, dynamic, sigmoid, lorentz")
	fs.IntVar(&opts.MaxIter, "max-iter", 0, "Maximum ICP iterations per trial")
	fs.IntVar(&opts.NPer, "nper", 0, "Number of perturbed restarts")
	fs.Int64Var(&opts.Seed, "seed", 0, "Perturbation seed")
	fs.IntVar(&opts.Parallel, "parallel", 0, "Trials evaluated concurrently")
	fs.IntVar(&opts.Workers, "workers", 0, "Correspondence workers per trial")
	fs.BoolVar(&opts.Fine, "fine", false, "Match against the closest surface point instead of the closest vertex")
	fs.BoolVar(&opts.Overlap, "overlap", false, "Reject matches that touch the scene boundary")
	fs.BoolVar(&opts.Curvature, "curvature", false, "Match on curvature features as well as position")
	fs.StringVar(&opts.Initial, "initial", "", "Initial transform: tx,ty,tz,rx,ry,rz (degrees)")
	fs.StringVar(&opts.InitialFile, "initial-file", "", "Read the initial transform from a transform file")
	fs.BoolVar(&opts.Verbose, "verbose", false, "Log every iteration")

	if err := fs.Parse(args); err != nil {
		return err
	}
	if opts.Initial != "" {
		if _, err := parseParams(opts.Initial); err != nil {
			return fmt.Errorf("-initial: %w", err)
		}
	}

	fmt.Fprintf(out, "meshreg version: %s\n", Version)
	app.ApplyOptions(opts)

	switch {
	case opts.InspectPath != "":
		return app.RunInspect(opts.InspectPath)
	case opts.RenderOnly:
		return app.RunRender()
	case opts.GeoJSONOnly:
		return app.RunGeoJSON()
	case opts.RegisterOnly:
		return app.RunRegister()
	case opts.BatchOnly:
		return app.RunBatch()
	case opts.MqttMode || opts.HttpMode:
		return app.RunService()
	}

	fmt.Fprintln(out, "Use -register -model A -scene B to align two meshes")
	fmt.Fprintln(out, "Use -register -job ID to run a job from config.yaml")
	fmt.Fprintln(out, "Use -batch to run every job in config.yaml")
	fmt.Fprintln(out, "Use -inspect FILE to check a mesh")
	fmt.Fprintln(out, "Use -render or -geojson to export a registration preview")
	fmt.Fprintln(out, "Use -mqtt and/or -http to run the service")
	return nil
}

// parseParams reads "tx,ty,tz,rx,ry,rz"; spaces are accepted as separators.
func parseParams(s string) ([]float64, error) {
	fields := strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ' ' })
	if len(fields) != 6 {
		return nil, fmt.Errorf("want 6 values (tx,ty,tz,rx,ry,rz), got %d", len(fields))
	}
	out := make([]float64, 6)
	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return nil, fmt.Errorf("value %d: %w", i+1, err)
		}
		out[i] = v
	}
	return out, nil
}
