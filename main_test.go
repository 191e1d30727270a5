package main

import (
	"bytes"
	"errors"
	"flag"
	"strings"
	"testing"
)

type mockApp struct {
	opts   AppOptions
	called map[string]bool
	sArg   string
	err    error
}

func newMockApp() *mockApp {
	return &mockApp{
		called: make(map[string]bool),
	}
}

func (m *mockApp) ApplyOptions(opts AppOptions) { m.opts = opts }
func (m *mockApp) RunRegister() error           { m.called["RunRegister"] = true; return m.err }
func (m *mockApp) RunBatch() error              { m.called["RunBatch"] = true; return m.err }
func (m *mockApp) RunInspect(s string) error {
	m.called["RunInspect"] = true
	m.sArg = s
	return m.err
}
func (m *mockApp) RunRender() error  { m.called["RunRender"] = true; return m.err }
func (m *mockApp) RunGeoJSON() error { m.called["RunGeoJSON"] = true; return m.err }
func (m *mockApp) RunService() error { m.called["RunService"] = true; return m.err }

func TestRun_Flags(t *testing.T) {
	tests := []struct {
		name           string
		args           []string
		expectedCalled string
		verifyOpts     func(*testing.T, AppOptions)
	}{
		{
			name:           "Register",
			args:           []string{"--register", "--model", "a.wrl", "--scene", "b.stl", "--transform-out", "t.txt", "--matches-out", "m.txt"},
			expectedCalled: "RunRegister",
			verifyOpts: func(t *testing.T, opts AppOptions) {
				if opts.Model != "a.wrl" || opts.Scene != "b.stl" {
					t.Errorf("model/scene = %s/%s", opts.Model, opts.Scene)
				}
				if opts.TransformOut != "t.txt" || opts.MatchesOut != "m.txt" {
					t.Errorf("outputs = %s/%s", opts.TransformOut, opts.MatchesOut)
				}
				if opts.ConfigFile != "config.yaml" {
					t.Errorf("expected default ConfigFile, got %s", opts.ConfigFile)
				}
			},
		},
		{
			name:           "RegisterOverrides",
			args:           []string{"--register", "--job", "bunny", "--policy", "lorentz", "--max-iter", "40", "--nper", "6", "--seed", "7", "--parallel", "3", "--workers", "4", "--fine", "--overlap", "--curvature", "--initial", "1,2,3,0,0,90"},
			expectedCalled: "RunRegister",
			verifyOpts: func(t *testing.T, opts AppOptions) {
				if opts.JobID != "bunny" || opts.Policy != "lorentz" {
					t.Errorf("job/policy = %s/%s", opts.JobID, opts.Policy)
				}
				if opts.MaxIter != 40 || opts.NPer != 6 || opts.Seed != 7 || opts.Parallel != 3 || opts.Workers != 4 {
					t.Errorf("numbers = %+v", opts)
				}
				if !opts.Fine || !opts.Overlap || !opts.Curvature {
					t.Error("expected Fine, Overlap and Curvature true")
				}
				if opts.Initial != "1,2,3,0,0,90" {
					t.Errorf("Initial = %q", opts.Initial)
				}
			},
		},
		{
			name:           "Batch",
			args:           []string{"--batch", "--config", "jobs.yaml", "--results-dir", "/tmp/results"},
			expectedCalled: "RunBatch",
			verifyOpts: func(t *testing.T, opts AppOptions) {
				if opts.ConfigFile != "jobs.yaml" || opts.ResultsDir != "/tmp/results" {
					t.Errorf("config/results = %s/%s", opts.ConfigFile, opts.ResultsDir)
				}
			},
		},
		{
			name:           "Inspect",
			args:           []string{"--inspect", "scan.wrl"},
			expectedCalled: "RunInspect",
		},
		{
			name:           "Render",
			args:           []string{"--render", "--job", "bunny", "--output", "bunny.svg", "--format", "vector", "--vector-format", "svg", "--view", "xz"},
			expectedCalled: "RunRender",
			verifyOpts: func(t *testing.T, opts AppOptions) {
				if opts.OutputFile != "bunny.svg" || opts.RenderFormat != "vector" || opts.VectorFormat != "svg" || opts.View != "xz" {
					t.Errorf("render opts = %+v", opts)
				}
			},
		},
		{
			name:           "GeoJSON",
			args:           []string{"--geojson", "--job", "bunny", "--simplify", "0.5"},
			expectedCalled: "RunGeoJSON",
			verifyOpts: func(t *testing.T, opts AppOptions) {
				if opts.Tolerance != 0.5 {
					t.Errorf("Tolerance = %v", opts.Tolerance)
				}
			},
		},
		{
			name:           "Service",
			args:           []string{"--mqtt", "--http", "--http-port", "9090"},
			expectedCalled: "RunService",
			verifyOpts: func(t *testing.T, opts AppOptions) {
				if !opts.MqttMode || !opts.HttpMode {
					t.Error("expected MqttMode and HttpMode true")
				}
				if opts.HttpPort != 9090 {
					t.Errorf("expected HttpPort 9090, got %d", opts.HttpPort)
				}
			},
		},
		{
			name:           "HTTPOnly",
			args:           []string{"--http"},
			expectedCalled: "RunService",
			verifyOpts: func(t *testing.T, opts AppOptions) {
				if opts.HttpPort != 8080 {
					t.Errorf("expected default HttpPort 8080, got %d", opts.HttpPort)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := newMockApp()
			var out bytes.Buffer
			err := run(tt.args, &out, app)
			if err != nil {
				t.Fatalf("run failed: %v", err)
			}

			if !app.called[tt.expectedCalled] {
				t.Errorf("expected %s to be called, got %v", tt.expectedCalled, app.called)
			}
			if len(app.called) != 1 {
				t.Errorf("expected exactly one mode, got %v", app.called)
			}

			if tt.verifyOpts != nil {
				tt.verifyOpts(t, app.opts)
			}
		})
	}
}

func TestRun_InspectArgument(t *testing.T) {
	app := newMockApp()
	if err := run([]string{"--inspect", "scans/part.stl", "--register"}, &bytes.Buffer{}, app); err != nil {
		t.Fatal(err)
	}
	if app.sArg != "scans/part.stl" {
		t.Errorf("RunInspect got %q", app.sArg)
	}
	if app.called["RunRegister"] {
		t.Error("inspect takes priority over register")
	}
}

func TestRun_PropagatesModeError(t *testing.T) {
	app := newMockApp()
	app.err = errors.New("boom")
	err := run([]string{"--batch"}, &bytes.Buffer{}, app)
	if err == nil || err.Error() != "boom" {
		t.Errorf("err = %v, want boom", err)
	}
}

func TestRun_BadInitial(t *testing.T) {
	app := newMockApp()
	err := run([]string{"--register", "--initial", "1,2,3"}, &bytes.Buffer{}, app)
	if err == nil || !strings.Contains(err.Error(), "want 6 values") {
		t.Errorf("err = %v", err)
	}
	if len(app.called) != 0 {
		t.Errorf("mode ran despite a bad flag: %v", app.called)
	}
}

func TestRun_Help(t *testing.T) {
	app := newMockApp()
	var out bytes.Buffer
	err := run([]string{"--help"}, &out, app)
	if !errors.Is(err, flag.ErrHelp) {
		t.Errorf("expected flag.ErrHelp, got %v", err)
	}
	if !strings.Contains(out.String(), "Usage of meshreg") {
		t.Errorf("expected usage info in output, got: %s", out.String())
	}
	if !strings.Contains(out.String(), "-mqtt") {
		t.Error("expected usage to document -mqtt")
	}
}

func TestRun_UnknownFlag(t *testing.T) {
	err := run([]string{"--frobnicate"}, &bytes.Buffer{}, newMockApp())
	if err == nil {
		t.Error("expected an error for an unknown flag")
	}
}

func TestRun_Default(t *testing.T) {
	app := newMockApp()
	var out bytes.Buffer
	err := run([]string{}, &out, app)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	expectedPrefix := "meshreg version: " + Version
	if !strings.Contains(out.String(), expectedPrefix) {
		t.Errorf("expected output to contain version, got: %s", out.String())
	}
	if !strings.Contains(out.String(), "Use -register") {
		t.Errorf("expected usage hints, got: %s", out.String())
	}
	if len(app.called) != 0 {
		t.Errorf("no mode should run, got %v", app.called)
	}
}

func TestParseParams(t *testing.T) {
	tests := []struct {
		in      string
		want    []float64
		wantErr string
	}{
		{"1,2,3,4,5,6", []float64{1, 2, 3, 4, 5, 6}, ""},
		{"0 0 1.5 0 0 -90", []float64{0, 0, 1.5, 0, 0, -90}, ""},
		{"1, 2, 3, 4, 5, 6", []float64{1, 2, 3, 4, 5, 6}, ""},
		{"1,2", nil, "got 2"},
		{"1,2,3,4,5,x", nil, "value 6"},
	}
	for _, tt := range tests {
		got, err := parseParams(tt.in)
		if tt.wantErr != "" {
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("parseParams(%q) err = %v, want %q", tt.in, err, tt.wantErr)
			}
			continue
		}
		if err != nil {
			t.Errorf("parseParams(%q) error: %v", tt.in, err)
			continue
		}
		for i := range tt.want {
			if got[i] != tt.want[i] {
				t.Errorf("parseParams(%q) = %v, want %v", tt.in, got, tt.want)
				break
			}
		}
	}
}

func TestMain_Execute(t *testing.T) {
	// Smoke test to ensure version is set
	if Version == "" {
		t.Error("expected Version to be set")
	}
}
