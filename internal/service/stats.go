package service

import "sync/atomic"

// Stats 运行计数器
type Stats struct {
	TotalRequests   atomic.Int64
	FailedRequests  atomic.Int64
	CachedResponses atomic.Int64
	StreamRequests  atomic.Int64
}

func NewStats() *Stats {
	return &Stats{}
}

func (s *Stats) Snapshot() map[string]int64 {
	return map[string]int64{
		"totalRequests":   s.TotalRequests.Load(),
		"failedRequests":  s.FailedRequests.Load(),
		"cachedResponses": s.CachedResponses.Load(),
		"streamRequests":  s.StreamRequests.Load(),
	}
}

func (s *Stats) Reset() {
	s.TotalRequests.Store(0)
	s.FailedRequests.Store(0)
	s.CachedResponses.Store(0)
	s.StreamRequests.Store(0)
}
