package model

import (
	"fmt"
	"sync"
	"time"
)

// MAX_HISTORY_POINTS is the rolling window size kept per GPU.
const MAX_HISTORY_POINTS = 20

type MetricPoint struct {
	Timestamp string  `json:"timestamp"`
	Value     float64 `json:"value"`
}

// MetricHistory keeps a bounded utilization history per GPU index. Points are kept in arrival
// order and the oldest point is dropped once the window is full. GPUs that disappear from a
// snapshot keep their history.
type MetricHistory struct {
	capacity int
	series   map[int][]MetricPoint
	rwlock   sync.RWMutex
}

func NewMetricHistory() *MetricHistory {
	return NewMetricHistoryWithCapacity(MAX_HISTORY_POINTS)
}

func NewMetricHistoryWithCapacity(capacity int) *MetricHistory {
	if capacity <= 0 {
		capacity = MAX_HISTORY_POINTS
	}
	return &MetricHistory{
		capacity: capacity,
		series:   make(map[int][]MetricPoint),
	}
}

// Record appends one point to the GPU's sequence.
func (h *MetricHistory) Record(gpuIndex int, utilization float64, timestamp string) {
	h.rwlock.Lock()
	defer h.rwlock.Unlock()

	points := append(h.series[gpuIndex], MetricPoint{Timestamp: timestamp, Value: utilization})
	if len(points) > h.capacity {
		points = append([]MetricPoint(nil), points[len(points)-h.capacity:]...)
	}
	h.series[gpuIndex] = points
}

// RecordSnapshot records the utilization of every GPU of one poll under the same label.
func (h *MetricHistory) RecordSnapshot(gpus []GPUSnapshot, at time.Time) {
	label := HistoryLabel(at)
	for _, g := range gpus {
		h.Record(g.Index, g.Utilization, label)
	}
}

// SequenceFor returns a copy of the GPU's points, oldest first.
func (h *MetricHistory) SequenceFor(gpuIndex int) []MetricPoint {
	h.rwlock.RLock()
	defer h.rwlock.RUnlock()

	points := h.series[gpuIndex]
	out := make([]MetricPoint, len(points))
	copy(out, points)
	return out
}

// HistoryLabel formats a sample time as minutes:seconds, e.g. "7:05".
func HistoryLabel(at time.Time) string {
	return fmt.Sprintf("%d:%02d", at.Minute(), at.Second())
}
