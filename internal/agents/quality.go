package agents

import (
	"context"
	"sort"
	"sync"

	"github.com/aretw0/pitcrew/pkg/domain"
)

// QualityAnalyst is the manufacturing quality collaborator. It listens on the
// insights channel and tallies diagnosed components across the fleet.
type QualityAnalyst struct {
	mu         sync.Mutex
	components map[string]int
	bookings   int
}

// NewQualityAnalyst creates an empty analyst.
func NewQualityAnalyst() *QualityAnalyst {
	return &QualityAnalyst{components: make(map[string]int)}
}

// SubscriberID implements bus.Subscriber.
func (q *QualityAnalyst) SubscriberID() string {
	return string(domain.AgentManufacturingQuality)
}

// Deliver implements bus.Subscriber.
func (q *QualityAnalyst) Deliver(_ context.Context, msg domain.Message) {
	if msg.Type != domain.TypeManufacturingInsight {
		return
	}
	findings, _ := msg.Payload["findings"].(map[string]any)

	q.mu.Lock()
	defer q.mu.Unlock()

	switch msg.Payload["insight_type"] {
	case "diagnosis":
		if c, ok := findings["component"].(string); ok && c != "" && c != "none" {
			q.components[c]++
		}
	case "appointment":
		q.bookings++
	}
}

// ComponentCount is a failure tally for one component.
type ComponentCount struct {
	Component string `json:"component"`
	Count     int    `json:"count"`
}

// TopComponents returns components by descending failure count.
func (q *QualityAnalyst) TopComponents() []ComponentCount {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]ComponentCount, 0, len(q.components))
	for c, n := range q.components {
		out = append(out, ComponentCount{Component: c, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Component < out[j].Component
	})
	return out
}

// Bookings returns how many appointments were reported.
func (q *QualityAnalyst) Bookings() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.bookings
}
