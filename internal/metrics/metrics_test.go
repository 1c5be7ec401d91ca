package metrics

import (
	"errors"
	"sync"
	"testing"
	"time"

	"dify2ollama/internal/core"
)

type countingStorage struct {
	mu        sync.Mutex
	saveCount int
	loaded    *core.RequestStats
	last      *core.RequestStats
}

func (s *countingStorage) SaveStats(stats *core.RequestStats) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saveCount++
	s.last = stats
	return nil
}

func (s *countingStorage) LoadStats() (*core.RequestStats, error) {
	if s.loaded != nil {
		return s.loaded, nil
	}
	return &core.RequestStats{}, nil
}

func (s *countingStorage) Close() error { return nil }

func (s *countingStorage) getSaveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveCount
}

type failingStorage struct{ countingStorage }

func (s *failingStorage) LoadStats() (*core.RequestStats, error) {
	return nil, errors.New("disk on fire")
}

func newTestService(t *testing.T, historySize int, storage core.StorageInterface) *MetricsService {
	t.Helper()
	ms := NewMetricsService(MetricsConfig{
		SaveInterval: time.Hour,
		HistorySize:  historySize,
		Storage:      storage,
		Logger:       &core.NopLogger{},
	})
	t.Cleanup(func() { _ = ms.Close() })
	return ms
}

func TestMetricsService_RecordRequest(t *testing.T) {
	ms := newTestService(t, 10, nil)

	ms.RecordRequest(true, 100*time.Millisecond, "dify1", "session:admin")
	ms.RecordRequest(false, 200*time.Millisecond, "dify1", "apikey")
	ms.RecordRequest(true, 150*time.Millisecond, "paper-reader", "session:admin")

	stats := ms.GetRequestStats()
	if stats.TotalRequests != 3 {
		t.Errorf("Expected 3 total requests, got %d", stats.TotalRequests)
	}
	if stats.SuccessfulRequests != 2 {
		t.Errorf("Expected 2 successful requests, got %d", stats.SuccessfulRequests)
	}
	if stats.FailedRequests != 1 {
		t.Errorf("Expected 1 failed request, got %d", stats.FailedRequests)
	}
	if stats.TotalResponseTime != 450 {
		t.Errorf("Expected 450ms total, got %d", stats.TotalResponseTime)
	}
	if len(stats.RequestHistory) != 3 || stats.RequestHistory[1].Client != "apikey" {
		t.Errorf("unexpected history: %+v", stats.RequestHistory)
	}
}

func TestMetricsService_GetQPS(t *testing.T) {
	ms := newTestService(t, 10, nil)
	if qps := ms.GetQPS(); qps != 0 {
		t.Errorf("期望 0，实际 %f", qps)
	}
	for i := 0; i < 6; i++ {
		ms.RecordRequest(true, time.Millisecond, "dify1", "")
	}
	if qps := ms.GetQPS(); qps != 0.1 {
		t.Errorf("期望 0.1，实际 %f", qps)
	}
}

func TestMetricsService_MaxHistorySize(t *testing.T) {
	ms := newTestService(t, 3, nil)
	for i := 0; i < 5; i++ {
		ms.RecordRequest(true, time.Duration(i)*time.Millisecond, "model", "client")
	}

	stats := ms.GetRequestStats()
	if len(stats.RequestHistory) != 3 {
		t.Fatalf("History should be capped at 3, got %d", len(stats.RequestHistory))
	}
	if stats.RequestHistory[0].ResponseTime != 2 {
		t.Errorf("oldest entries should be dropped first, got %+v", stats.RequestHistory[0])
	}
}

func TestMetricsService_DefaultHistorySize(t *testing.T) {
	ms := newTestService(t, 0, nil)
	if got := ms.history.capacity(); got != core.HistoryBufferSize {
		t.Errorf("期望 %d，实际 %d", core.HistoryBufferSize, got)
	}
}

func TestMetricsService_LoadStats(t *testing.T) {
	st := &countingStorage{loaded: &core.RequestStats{
		TotalRequests:      10,
		SuccessfulRequests: 9,
		FailedRequests:     1,
		RequestHistory: []core.RequestRecord{
			{Model: "a"}, {Model: "b"}, {Model: "c"},
		},
	}}
	ms := newTestService(t, 2, st)

	if err := ms.LoadStats(); err != nil {
		t.Fatalf("LoadStats failed: %v", err)
	}
	stats := ms.GetRequestStats()
	if stats.TotalRequests != 10 || stats.FailedRequests != 1 {
		t.Errorf("counters not restored: %+v", stats)
	}
	if len(stats.RequestHistory) != 2 || stats.RequestHistory[0].Model != "b" {
		t.Errorf("restored history should be trimmed to the newest entries: %+v", stats.RequestHistory)
	}
}

func TestMetricsService_LoadStatsError(t *testing.T) {
	ms := newTestService(t, 2, &failingStorage{})
	if err := ms.LoadStats(); err == nil {
		t.Fatal("期望返回错误")
	}
}

func TestMetricsService_SaveDebounced(t *testing.T) {
	st := &countingStorage{}
	ms := newTestService(t, 10, st)

	ms.RecordRequest(true, time.Millisecond, "dify1", "")
	ms.RecordRequest(true, time.Millisecond, "dify1", "")
	ms.RecordRequest(true, time.Millisecond, "dify1", "")

	if got := st.getSaveCount(); got != 1 {
		t.Errorf("debounce should allow one save per interval, got %d", got)
	}
}

func TestMetricsService_Close_Idempotent(t *testing.T) {
	st := &countingStorage{}
	ms := NewMetricsService(MetricsConfig{
		SaveInterval: time.Hour,
		HistorySize:  10,
		Storage:      st,
		Logger:       &core.NopLogger{},
	})

	ms.RecordRequest(true, 10*time.Millisecond, "dify1", "session:admin")

	if err := ms.Close(); err != nil {
		t.Fatalf("第一次关闭不应失败: %v", err)
	}
	firstCloseSaves := st.getSaveCount()
	if firstCloseSaves == 0 {
		t.Fatal("第一次关闭后应至少有一次持久化")
	}
	if st.last == nil || st.last.TotalRequests != 1 {
		t.Errorf("final snapshot should include the request: %+v", st.last)
	}

	if err := ms.Close(); err != nil {
		t.Fatalf("第二次关闭不应失败: %v", err)
	}
	if st.getSaveCount() != firstCloseSaves {
		t.Fatalf("第二次 Close 不应新增持久化，第一次=%d，第二次后=%d", firstCloseSaves, st.getSaveCount())
	}
}

func TestGetPeriodStats(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	history := []core.RequestRecord{
		{Timestamp: now.Add(-30 * time.Minute), Success: true, ResponseTime: 100},
		{Timestamp: now.Add(-2 * time.Hour), Success: false, ResponseTime: 300},
		{Timestamp: now.Add(-48 * time.Hour), Success: true, ResponseTime: 50},
	}

	result := GetPeriodStats(history, now, 1, 24)

	hour := result[1]
	if hour.Requests != 1 || hour.SuccessRate != 100 || hour.AvgResponseTime != 100 {
		t.Errorf("unexpected 1h stats: %+v", hour)
	}
	day := result[24]
	if day.Requests != 2 || day.SuccessRate != 50 || day.AvgResponseTime != 200 {
		t.Errorf("unexpected 24h stats: %+v", day)
	}
	if GetPeriodStats(history, now) != nil {
		t.Error("no periods should yield nil")
	}
}

func TestRateWindow_DropsOldSeconds(t *testing.T) {
	var w rateWindow
	base := time.Unix(1_700_000_000, 0)
	for i := 0; i < 30; i++ {
		w.hit(base)
	}
	w.hit(base.Add(30 * time.Second))

	if got := w.perSecond(base.Add(30 * time.Second)); got != 0.517 {
		t.Errorf("期望 0.517，实际 %v", got)
	}
	if got := w.perSecond(base.Add(70 * time.Second)); got != 0.017 {
		t.Errorf("一分钟前的请求应被淘汰，期望 0.017，实际 %v", got)
	}
	if got := w.perSecond(base.Add(5 * time.Minute)); got != 0 {
		t.Errorf("期望 0，实际 %v", got)
	}
}

func TestHistoryRing_RestoreThenAppend(t *testing.T) {
	h := newHistoryRing(3)
	h.restore([]core.RequestRecord{{Model: "a"}, {Model: "b"}}, time.Time{})
	h.add(core.RequestRecord{Model: "c"})
	h.add(core.RequestRecord{Model: "d"})

	got, _ := h.snapshot()
	if len(got) != 3 || got[0].Model != "b" || got[2].Model != "d" {
		t.Errorf("unexpected order: %+v", got)
	}
}
