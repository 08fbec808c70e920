package bus

import "sync"

// Metrics tracks bus throughput and health. All fields are updated by
// the bus itself; callers read a copy via Snapshot.
type Metrics struct {
	mu sync.Mutex

	totalEvents   int64
	totalResults  int64
	totalErrors   int64
	avgEventTime  float64 // seconds, rolling average
	avgResultTime float64
	currentQueue  int
	maxQueue      int
}

// MetricsSnapshot is a point-in-time copy of the bus metrics.
type MetricsSnapshot struct {
	TotalEventsProcessed    int64   `json:"total_events_processed"`
	TotalResultsProcessed   int64   `json:"total_results_processed"`
	AvgEventProcessingTime  float64 `json:"avg_event_processing_time"`
	AvgResultProcessingTime float64 `json:"avg_result_processing_time"`
	CurrentQueueSize        int     `json:"current_queue_size"`
	MaxQueueSize            int     `json:"max_queue_size"`
	TotalErrors             int64   `json:"total_errors"`
}

func (m *Metrics) recordEvent(seconds float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.totalEvents++
	m.avgEventTime = rollAvg(m.avgEventTime, seconds, m.totalEvents)
}

func (m *Metrics) recordResult(seconds float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.totalResults++
	m.avgResultTime = rollAvg(m.avgResultTime, seconds, m.totalResults)
}

func (m *Metrics) recordError() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.totalErrors++
}

func (m *Metrics) recordQueueSize(size int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.currentQueue = size
	if size > m.maxQueue {
		m.maxQueue = size
	}
}

// Snapshot returns a copy of the current counters.
func (m *Metrics) Snapshot() MetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return MetricsSnapshot{
		TotalEventsProcessed:    m.totalEvents,
		TotalResultsProcessed:   m.totalResults,
		AvgEventProcessingTime:  m.avgEventTime,
		AvgResultProcessingTime: m.avgResultTime,
		CurrentQueueSize:        m.currentQueue,
		MaxQueueSize:            m.maxQueue,
		TotalErrors:             m.totalErrors,
	}
}

func rollAvg(avg, sample float64, n int64) float64 {
	if n <= 1 {
		return sample
	}
	return (avg*float64(n-1) + sample) / float64(n)
}
