package mesh

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ResultRecord is a registration result together with the job that produced
// it. It is the JSON document saved under the results directory and
// published over MQTT.
type ResultRecord struct {
	RunID       string             `json:"runId"`
	JobID       string             `json:"jobId"`
	Model       string             `json:"model"`
	Scene       string             `json:"scene"`
	Params      [6]float64         `json:"params"` // tx ty tz rx ry rz (degrees)
	Result      RegistrationResult `json:"result"`
	Duration    float64            `json:"durationSeconds"`
	LastUpdated int64              `json:"lastUpdated"`
}

// NewResultRecord wraps res with a fresh run ID.
func NewResultRecord(job JobConfig, res RegistrationResult, took time.Duration) *ResultRecord {
	return &ResultRecord{
		RunID:    uuid.NewString(),
		JobID:    job.ID,
		Model:    job.Model,
		Scene:    job.Scene,
		Params:   res.Transform.Params(),
		Result:   res,
		Duration: took.Seconds(),
	}
}

// SaveResult writes rec as indented JSON to path.
func SaveResult(path string, rec *ResultRecord) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating results directory: %w", err)
	}

	rec.LastUpdated = time.Now().Unix()

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling result: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing result file: %w", err)
	}
	return nil
}

// LoadResult reads a record saved by SaveResult. A missing file returns
// nil, nil.
func LoadResult(path string) (*ResultRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading result file: %w", err)
	}

	var rec ResultRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("parsing result file: %w", err)
	}
	return &rec, nil
}

// ResultPath is where results for jobID live under dir.
func ResultPath(dir, jobID string) string {
	return filepath.Join(dir, jobID+".json")
}

// WriteTransformFile writes t as one line "tx ty tz rx ry rz" with angles in
// degrees.
func WriteTransformFile(path string, t RigidTransform) error {
	p := t.Params()
	line := fmt.Sprintf("%.9g %.9g %.9g %.9g %.9g %.9g\n", p[0], p[1], p[2], p[3], p[4], p[5])
	if err := os.WriteFile(path, []byte(line), 0644); err != nil {
		return fmt.Errorf("writing transform file: %w", err)
	}
	return nil
}

// ReadTransformFile reads a transform written by WriteTransformFile. Any
// whitespace separates the six numbers.
func ReadTransformFile(path string) (RigidTransform, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return IdentityTransform(), fmt.Errorf("reading transform file: %w", err)
	}
	fields := strings.Fields(string(data))
	if len(fields) != 6 {
		return IdentityTransform(), fmt.Errorf("transform file %s: want 6 numbers, got %d", path, len(fields))
	}
	var p [6]float64
	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return IdentityTransform(), fmt.Errorf("transform file %s: field %d: %w", path, i+1, err)
		}
		p[i] = v
	}
	return TransformFromParams(p[0], p[1], p[2], p[3], p[4], p[5]), nil
}

// WriteMatches writes one "model scene" index pair per line.
func WriteMatches(w io.Writer, pairs []PairIndex) error {
	bw := bufio.NewWriter(w)
	for _, p := range pairs {
		if _, err := fmt.Fprintf(bw, "%d %d\n", p.Model, p.Scene); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// WriteMatchesFile writes pairs to path with WriteMatches.
func WriteMatchesFile(path string, pairs []PairIndex) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating matches file: %w", err)
	}
	err = WriteMatches(f, pairs)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("writing matches file: %w", err)
	}
	return nil
}
