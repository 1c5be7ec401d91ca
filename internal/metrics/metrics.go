package metrics

import (
	"math"
	"sync"
	"sync/atomic"
	"time"

	"dify2ollama/internal/core"
)

// MetricsConfig configuration for MetricsService
type MetricsConfig struct {
	SaveInterval time.Duration
	HistorySize  int
	Storage      core.StorageInterface
	Logger       core.Logger
}

type counters struct {
	total        atomic.Int64
	successful   atomic.Int64
	failed       atomic.Int64
	responseTime atomic.Int64
}

// historyRing keeps the newest records up to a fixed capacity.
type historyRing struct {
	mu      sync.RWMutex
	records []core.RequestRecord
	next    int
	full    bool
	last    time.Time
}

func newHistoryRing(capacity int) *historyRing {
	return &historyRing{records: make([]core.RequestRecord, capacity)}
}

func (h *historyRing) capacity() int { return len(h.records) }

func (h *historyRing) add(r core.RequestRecord) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.records[h.next] = r
	h.next = (h.next + 1) % len(h.records)
	if h.next == 0 {
		h.full = true
	}
	if r.Timestamp.After(h.last) {
		h.last = r.Timestamp
	}
}

// snapshot returns the records oldest first.
func (h *historyRing) snapshot() ([]core.RequestRecord, time.Time) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if !h.full {
		return append([]core.RequestRecord(nil), h.records[:h.next]...), h.last
	}
	out := make([]core.RequestRecord, 0, len(h.records))
	out = append(out, h.records[h.next:]...)
	out = append(out, h.records[:h.next]...)
	return out, h.last
}

func (h *historyRing) restore(records []core.RequestRecord, last time.Time) {
	if len(records) > len(h.records) {
		records = records[len(records)-len(h.records):]
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	n := copy(h.records, records)
	h.next = n % len(h.records)
	h.full = n == len(h.records)
	h.last = last
}

// rateWindow counts requests per second over the trailing minute.
type rateWindow struct {
	mu      sync.Mutex
	buckets [60]int64
	stamps  [60]int64
}

func (w *rateWindow) hit(now time.Time) {
	sec := now.Unix()
	i := sec % int64(len(w.buckets))
	w.mu.Lock()
	if w.stamps[i] != sec {
		w.stamps[i] = sec
		w.buckets[i] = 0
	}
	w.buckets[i]++
	w.mu.Unlock()
}

func (w *rateWindow) perSecond(now time.Time) float64 {
	sec := now.Unix()
	var sum int64
	w.mu.Lock()
	for i, stamp := range w.stamps {
		if sec-stamp < int64(len(w.buckets)) {
			sum += w.buckets[i]
		}
	}
	w.mu.Unlock()
	return math.Round(float64(sum)/float64(len(w.buckets))*1000) / 1000
}

// MetricsService keeps request history for /stats and feeds the Prometheus
// collectors. It persists a snapshot through Storage, debounced by SaveInterval.
type MetricsService struct {
	counters counters
	history  *historyRing
	rate     rateWindow

	storage      core.StorageInterface
	logger       core.Logger
	saveInterval time.Duration
	lastSave     atomic.Int64
	saving       atomic.Bool
	closeOnce    sync.Once
}

// NewMetricsService creates a new MetricsService
func NewMetricsService(config MetricsConfig) *MetricsService {
	if config.HistorySize <= 0 {
		config.HistorySize = core.HistoryBufferSize
	}
	if config.Logger == nil {
		config.Logger = &core.NopLogger{}
	}
	return &MetricsService{
		history:      newHistoryRing(config.HistorySize),
		storage:      config.Storage,
		logger:       config.Logger,
		saveInterval: config.SaveInterval,
	}
}

// RecordRequest records the outcome of one gateway call.
func (ms *MetricsService) RecordRequest(success bool, duration time.Duration, model, client string) {
	now := time.Now()
	responseTime := duration.Milliseconds()

	ms.counters.total.Add(1)
	ms.counters.responseTime.Add(responseTime)
	if success {
		ms.counters.successful.Add(1)
	} else {
		ms.counters.failed.Add(1)
	}
	ms.rate.hit(now)
	ms.history.add(core.RequestRecord{
		Timestamp:    now,
		Success:      success,
		ResponseTime: responseTime,
		Model:        model,
		Client:       client,
	})
	observeGateway(model, success)

	ms.SaveStatsDebounced()
}

// RecordUpstreamRequest records one backend call and its outcome label.
func (ms *MetricsService) RecordUpstreamRequest(outcome string, duration time.Duration) {
	observeUpstream(outcome, duration)
}

// RecordStreamChunk counts one chat chunk written to a client.
func (ms *MetricsService) RecordStreamChunk() {
	streamChunksTotal.Inc()
}

// RecordDecodeSkipped counts backend lines the parser dropped.
func (ms *MetricsService) RecordDecodeSkipped(count int) {
	if count > 0 {
		decodeSkippedTotal.Add(float64(count))
	}
}

// GetQPS returns the request rate over the last minute.
func (ms *MetricsService) GetQPS() float64 {
	return ms.rate.perSecond(time.Now())
}

// GetRequestStats returns current stats snapshot
func (ms *MetricsService) GetRequestStats() core.RequestStats {
	history, last := ms.history.snapshot()
	return core.RequestStats{
		TotalRequests:      ms.counters.total.Load(),
		SuccessfulRequests: ms.counters.successful.Load(),
		FailedRequests:     ms.counters.failed.Load(),
		TotalResponseTime:  ms.counters.responseTime.Load(),
		LastRequestTime:    last,
		RequestHistory:     history,
	}
}

// GetPeriodStats aggregates history over each window (in hours) in one pass.
func GetPeriodStats(history []core.RequestRecord, now time.Time, hourPeriods ...int) map[int]core.PeriodStats {
	if len(hourPeriods) == 0 {
		return nil
	}

	type acc struct {
		cutoff                     time.Time
		requests, ok, responseTime int64
	}
	accs := make([]acc, len(hourPeriods))
	for i, hours := range hourPeriods {
		accs[i].cutoff = now.Add(-time.Duration(hours) * time.Hour)
	}

	for _, record := range history {
		for i := range accs {
			if !record.Timestamp.After(accs[i].cutoff) {
				continue
			}
			accs[i].requests++
			accs[i].responseTime += record.ResponseTime
			if record.Success {
				accs[i].ok++
			}
		}
	}

	result := make(map[int]core.PeriodStats, len(hourPeriods))
	for i, hours := range hourPeriods {
		a := accs[i]
		stats := core.PeriodStats{
			Requests: a.requests,
			QPS:      float64(a.requests) / (float64(hours) * 3600.0),
		}
		if a.requests > 0 {
			stats.SuccessRate = float64(a.ok) / float64(a.requests) * 100
			stats.AvgResponseTime = a.responseTime / a.requests
		}
		result[hours] = stats
	}
	return result
}

// LoadStats restores counters and history from storage.
func (ms *MetricsService) LoadStats() error {
	if ms.storage == nil {
		return nil
	}
	stats, err := ms.storage.LoadStats()
	if err != nil {
		return err
	}

	ms.counters.total.Store(stats.TotalRequests)
	ms.counters.successful.Store(stats.SuccessfulRequests)
	ms.counters.failed.Store(stats.FailedRequests)
	ms.counters.responseTime.Store(stats.TotalResponseTime)
	ms.history.restore(stats.RequestHistory, stats.LastRequestTime)
	return nil
}

// SaveStatsDebounced persists a snapshot at most once per SaveInterval.
func (ms *MetricsService) SaveStatsDebounced() {
	if ms.storage == nil {
		return
	}
	now := time.Now().UnixNano()
	last := ms.lastSave.Load()
	if now-last < int64(ms.saveInterval) || !ms.lastSave.CompareAndSwap(last, now) {
		return
	}
	if !ms.saving.CompareAndSwap(false, true) {
		return
	}
	defer ms.saving.Store(false)

	stats := ms.GetRequestStats()
	if err := ms.storage.SaveStats(&stats); err != nil {
		ms.logger.Warn("Failed to save stats: %v", err)
	}
}

// Close writes a final snapshot. Later calls are no-ops.
func (ms *MetricsService) Close() error {
	var err error
	ms.closeOnce.Do(func() {
		if ms.storage != nil {
			stats := ms.GetRequestStats()
			err = ms.storage.SaveStats(&stats)
		}
	})
	return err
}

var _ core.MetricsCollector = (*MetricsService)(nil)
