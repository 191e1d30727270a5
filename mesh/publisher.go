package mesh

import (
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Publisher publishes registration results to MQTT
type Publisher struct {
	client        mqtt.Client
	publishPrefix string
	qos           byte
	retain        bool
	results       map[string]*ResultRecord
	mu            sync.RWMutex
}

// resultSummary is the per-job entry of the combined results message.
type resultSummary struct {
	JobID     string     `json:"jobId"`
	RunID     string     `json:"runId"`
	Params    [6]float64 `json:"params"`
	Error     *float64   `json:"error"`
	Converged bool       `json:"converged"`
	Failed    bool       `json:"failed"`
}

// NewPublisher creates a new result publisher
// If client is nil, publishing is disabled (for testing)
func NewPublisher(client mqtt.Client, config *Config) *Publisher {
	return &Publisher{
		client:        client,
		publishPrefix: publishPrefix(config),
		qos:           0,
		retain:        true, // late subscribers get the last result
		results:       make(map[string]*ResultRecord),
	}
}

// PublishResult publishes a record to <prefix>/result/<job> and refreshes
// the combined <prefix>/results summary.
func (p *Publisher) PublishResult(rec *ResultRecord) error {
	p.mu.Lock()
	p.results[rec.JobID] = rec
	p.mu.Unlock()

	if p.client == nil || !p.client.IsConnected() {
		return fmt.Errorf("MQTT client not connected")
	}

	if err := p.publishIndividual(rec); err != nil {
		log.Printf("Error publishing result for %s: %v", rec.JobID, err)
		return err
	}

	if err := p.publishCombined(); err != nil {
		log.Printf("Error publishing combined results: %v", err)
		return err
	}

	return nil
}

func (p *Publisher) publishIndividual(rec *ResultRecord) error {
	topic := fmt.Sprintf("%s/result/%s", p.publishPrefix, rec.JobID)

	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshaling result: %w", err)
	}

	token := p.client.Publish(topic, p.qos, p.retain, payload)
	if token.WaitTimeout(2*time.Second) && token.Error() != nil {
		return fmt.Errorf("publishing to %s: %w", topic, token.Error())
	}

	log.Printf("Published result for %s: error=%.6g converged=%v", rec.JobID, rec.Result.Error, rec.Result.Converged)
	return nil
}

func (p *Publisher) publishCombined() error {
	p.mu.RLock()
	summaries := make([]resultSummary, 0, len(p.results))
	for _, rec := range p.results {
		summaries = append(summaries, resultSummary{
			JobID:     rec.JobID,
			RunID:     rec.RunID,
			Params:    rec.Params,
			Error:     finite(rec.Result.Error),
			Converged: rec.Result.Converged,
			Failed:    rec.Result.Failed,
		})
	}
	p.mu.RUnlock()

	if len(summaries) == 0 {
		return nil
	}
	sort.Slice(summaries, func(i, j int) bool { return summaries[i].JobID < summaries[j].JobID })

	topic := fmt.Sprintf("%s/results", p.publishPrefix)
	message := map[string]interface{}{
		"results":   summaries,
		"timestamp": time.Now().Unix(),
	}

	payload, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("marshaling combined results: %w", err)
	}

	token := p.client.Publish(topic, p.qos, p.retain, payload)
	if token.WaitTimeout(2*time.Second) && token.Error() != nil {
		return fmt.Errorf("publishing to %s: %w", topic, token.Error())
	}
	return nil
}

// PublishError reports a job that could not run to <prefix>/error/<job>.
func (p *Publisher) PublishError(jobID string, jobErr error) error {
	if p.client == nil || !p.client.IsConnected() {
		return fmt.Errorf("MQTT client not connected")
	}
	topic := fmt.Sprintf("%s/error/%s", p.publishPrefix, jobID)
	payload, err := json.Marshal(map[string]interface{}{
		"jobId":     jobID,
		"error":     jobErr.Error(),
		"timestamp": time.Now().Unix(),
	})
	if err != nil {
		return fmt.Errorf("marshaling job error: %w", err)
	}
	token := p.client.Publish(topic, p.qos, false, payload)
	if token.WaitTimeout(2*time.Second) && token.Error() != nil {
		return fmt.Errorf("publishing to %s: %w", topic, token.Error())
	}
	return nil
}

// GetResult returns the last record published for a job
func (p *Publisher) GetResult(jobID string) (*ResultRecord, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	rec, ok := p.results[jobID]
	return rec, ok
}

// ClearResult forgets a job's record
func (p *Publisher) ClearResult(jobID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.results, jobID)
}

// SetQoS sets the Quality of Service level for publishing (0, 1, or 2)
func (p *Publisher) SetQoS(qos byte) {
	if qos <= 2 {
		p.qos = qos
	}
}

// SetRetain sets whether published messages should be retained by the broker
func (p *Publisher) SetRetain(retain bool) {
	p.retain = retain
}
