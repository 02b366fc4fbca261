package recon

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// PlanMessage is the camera plan handed to the refinement process
type PlanMessage struct {
	RunID     string         `json:"runId"`
	Iteration int            `json:"iteration"`
	Alpha     float64        `json:"alpha"`
	Pairs     int            `json:"pairs"`
	Bundles   []CameraBundle `json:"bundles"`
	Timestamp int64          `json:"timestamp"`
}

// StatusMessage reports run progress on the status topic
type StatusMessage struct {
	State     string `json:"state"` // "running", "refining", "done" or "failed"
	RunID     string `json:"runId,omitempty"`
	Iteration int    `json:"iteration,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Publisher publishes camera plans and run status to MQTT
type Publisher struct {
	client        mqtt.Client
	publishPrefix string
	qos           byte
	retain        bool
	lastPlan      *PlanMessage
	mu            sync.RWMutex
}

// NewPublisher creates a plan publisher under prefix ("meshrefine" when empty)
// If client is nil, publishing is disabled (for testing)
func NewPublisher(client mqtt.Client, prefix string) *Publisher {
	if prefix == "" {
		prefix = "meshrefine"
	}
	return &Publisher{
		client:        client,
		publishPrefix: prefix,
		qos:           1,    // plans must not be lost
		retain:        true, // late subscribers get the current plan
	}
}

// PublishPlan publishes the plan for one iteration to <prefix>/plan
func (p *Publisher) PublishPlan(runID string, snap IterationSnapshot) error {
	msg := &PlanMessage{
		RunID:     runID,
		Iteration: snap.Iteration,
		Alpha:     snap.Alpha,
		Pairs:     snap.Pairs,
		Bundles:   snap.Bundles,
		Timestamp: time.Now().Unix(),
	}
	if msg.Bundles == nil {
		msg.Bundles = []CameraBundle{}
	}

	p.mu.Lock()
	p.lastPlan = msg
	p.mu.Unlock()

	if err := p.publish("plan", msg); err != nil {
		return err
	}
	log.Printf("Published plan for iteration %d: %d pairs over %d main cameras",
		msg.Iteration, msg.Pairs, len(msg.Bundles))
	return nil
}

// PublishStatus publishes run progress to <prefix>/status
func (p *Publisher) PublishStatus(status StatusMessage) error {
	return p.publish("status", status)
}

func (p *Publisher) publish(suffix string, v interface{}) error {
	if p.client == nil || !p.client.IsConnected() {
		return fmt.Errorf("MQTT client not connected")
	}
	topic := fmt.Sprintf("%s/%s", p.publishPrefix, suffix)

	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling %s: %w", suffix, err)
	}

	token := p.client.Publish(topic, p.qos, p.retain, payload)
	if token.WaitTimeout(2*time.Second) && token.Error() != nil {
		return fmt.Errorf("publishing to %s: %w", topic, token.Error())
	}
	return nil
}

// LastPlan returns a copy of the most recently published plan
func (p *Publisher) LastPlan() (PlanMessage, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.lastPlan == nil {
		return PlanMessage{}, false
	}
	return *p.lastPlan, true
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
