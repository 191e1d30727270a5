package mesh

import (
	"encoding/json"
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// Vertex is a mesh vertex. Edges, Faces and Neighbors are indices into the
// owning Mesh and are sorted ascending.
type Vertex struct {
	Coord     r3.Vec
	Normal    r3.Vec
	Boundary  bool
	Feature   []float64
	Edges     []int
	Faces     []int
	Neighbors []int
}

// Edge joins two vertices. Faces holds up to two adjacent faces, -1 for none.
type Edge struct {
	V        [2]int
	Faces    [2]int
	Boundary bool
}

// Face is a triangle. E[k] joins V[k] and V[(k+1)%3]; Adj[k] is the face on
// the other side of E[k] or -1.
type Face struct {
	V   [3]int
	E   [3]int
	Adj [3]int
}

// Region classifies where a closest point lies on a triangle.
type Region int

const (
	RegionFace Region = iota
	RegionEdge12
	RegionEdge23
	RegionEdge31
	RegionVertex1
	RegionVertex2
	RegionVertex3
)

var regionNames = [...]string{"face", "edge12", "edge23", "edge31", "vertex1", "vertex2", "vertex3"}

func (r Region) String() string {
	if r < 0 || int(r) >= len(regionNames) {
		return "unknown"
	}
	return regionNames[r]
}

// IsVertex reports whether r is one of the vertex regions.
func (r Region) IsVertex() bool {
	return r >= RegionVertex1 && r <= RegionVertex3
}

// IsEdge reports whether r is one of the edge regions.
func (r Region) IsEdge() bool {
	return r >= RegionEdge12 && r <= RegionEdge31
}

// MatchedPair is one model/scene correspondence found during MATCH.
// Model holds the model vertex coordinate under the current transform.
type MatchedPair struct {
	ModelIndex   int
	SceneIndex   int
	Model        r3.Vec
	Scene        r3.Vec
	ModelFeature []float64
	SceneFeature []float64
	Weight       float64
	Distance     float64
	Region       Region
	Face         int // -1 when matched by nearest vertex
}

// RegistrationResult is the outcome of one ICP attempt or of a whole
// multi-start run.
type RegistrationResult struct {
	Transform  RigidTransform `json:"transform"`
	Error      float64        `json:"error"`
	Iterations int            `json:"iterations"`
	Converged  bool           `json:"converged"`
	Failed     bool           `json:"failed"`
	Reason     string         `json:"reason,omitempty"`
	Trials     int            `json:"trials"`
	Pairs      []PairIndex    `json:"-"`
}

// MarshalJSON writes a non-finite Error, the mark of a run that never
// fitted, as null.
func (r RegistrationResult) MarshalJSON() ([]byte, error) {
	type plain RegistrationResult
	return json.Marshal(struct {
		plain
		Error *float64 `json:"error"`
	}{plain: plain(r), Error: finite(r.Error)})
}

// UnmarshalJSON reads a null or missing Error back as +Inf.
func (r *RegistrationResult) UnmarshalJSON(data []byte) error {
	type plain RegistrationResult
	aux := struct {
		*plain
		Error *float64 `json:"error"`
	}{plain: (*plain)(r)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	r.Error = math.Inf(1)
	if aux.Error != nil {
		r.Error = *aux.Error
	}
	return nil
}

func finite(v float64) *float64 {
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return nil
	}
	return &v
}

// PairIndex is the persisted form of a matched pair.
type PairIndex struct {
	Model int `json:"model"`
	Scene int `json:"scene"`
}

// Config is the unified YAML configuration.
type Config struct {
	Registration RegistrationConfig `yaml:"registration"`
	MQTT         MQTTConfig         `yaml:"mqtt,omitempty"`
	HTTP         HTTPConfig         `yaml:"http,omitempty"`
	Jobs         []JobConfig        `yaml:"jobs,omitempty"`
	ResultsDir   string             `yaml:"resultsDir,omitempty"`
}

// RegistrationConfig mirrors ICPConfig in YAML form. Zero values fall back to
// DefaultICPConfig.
type RegistrationConfig struct {
	WeightPolicy       string    `yaml:"weightPolicy,omitempty"`
	SigmoidDMid        float64   `yaml:"sigmoidDMid,omitempty"`
	SigmoidK           float64   `yaml:"sigmoidK,omitempty"`
	LorentzSigma       float64   `yaml:"lorentzSigma,omitempty"`
	DynamicD           float64   `yaml:"dynamicD,omitempty"`
	StaticThresh       float64   `yaml:"staticThresh,omitempty"`
	ErrorT             float64   `yaml:"errorT,omitempty"`
	DistT              float64   `yaml:"distT,omitempty"`
	AngleT             float64   `yaml:"angleT,omitempty"`
	TransT             float64   `yaml:"transT,omitempty"`
	MaxIter            int       `yaml:"maxIter,omitempty"`
	NormalTDeg         float64   `yaml:"normalTDeg,omitempty"`
	FineMatching       bool      `yaml:"fineMatching,omitempty"`
	OverlapFilter      bool      `yaml:"overlapFilter,omitempty"`
	OverlapDelay       int       `yaml:"overlapDelay,omitempty"`
	SmartOverlapT      float64   `yaml:"smartOverlapT,omitempty"`
	NPer               int       `yaml:"nPer,omitempty"`
	InnerIterations    int       `yaml:"innerIterations,omitempty"`
	DynamicBreakpoints []float64 `yaml:"dynamicBreakpoints,omitempty"`
	FeatureWeight      float64   `yaml:"featureWeight,omitempty"`
	Seed               int64     `yaml:"seed,omitempty"`
	Parallel           int       `yaml:"parallel,omitempty"`
	Workers            int       `yaml:"workers,omitempty"`
	Initial            []float64 `yaml:"initial,omitempty"` // tx ty tz rx ry rz (degrees)
	Verbose            bool      `yaml:"verbose,omitempty"`
}

// MQTTConfig holds MQTT broker settings
type MQTTConfig struct {
	Broker        string `yaml:"broker"`
	ClientID      string `yaml:"clientId,omitempty"`
	Username      string `yaml:"username,omitempty"`
	Password      string `yaml:"password,omitempty"`
	PublishPrefix string `yaml:"publishPrefix,omitempty"`
}

// HTTPConfig holds the HTTP server settings
type HTTPConfig struct {
	Enabled bool `yaml:"enabled,omitempty"`
	Port    int  `yaml:"port,omitempty"`
}

// JobConfig names a model/scene pair to register.
type JobConfig struct {
	ID    string `yaml:"id"`
	Model string `yaml:"model"`
	Scene string `yaml:"scene"`
}

// JobRequest is the JSON payload accepted on the request topic.
type JobRequest struct {
	ID       string              `json:"id,omitempty"`
	Model    string              `json:"model"`
	Scene    string              `json:"scene"`
	Override *RegistrationConfig `json:"registration,omitempty"`
}
