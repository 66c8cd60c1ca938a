package agent

import (
	"fmt"
	"sync"
)

// ConversationMetrics accumulates per-agent message, token, and cache
// counters. Each agent owns its own instance; subagents start fresh.
type ConversationMetrics struct {
	mu                  sync.Mutex
	totalMessages       int
	totalTokensUsed     int
	totalCacheHits      int
	totalCacheCreations int
	totalCost           float64
}

// RecordMessage counts one exchanged message.
func (m *ConversationMetrics) RecordMessage() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.totalMessages++
}

// RecordUsage adds one model response's token and cache counts.
func (m *ConversationMetrics) RecordUsage(tokens, cacheHits, cacheCreations int, cost float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.totalTokensUsed += tokens
	m.totalCacheHits += cacheHits
	m.totalCacheCreations += cacheCreations
	m.totalCost += cost
}

// Snapshot is a point-in-time copy of the counters.
type MetricsSnapshot struct {
	TotalMessages       int     `json:"total_messages"`
	TotalTokensUsed     int     `json:"total_tokens_used"`
	TotalCacheHits      int     `json:"total_cache_hits"`
	TotalCacheCreations int     `json:"total_cache_creations"`
	TotalCost           float64 `json:"total_cost"`
	CacheHitRate        string  `json:"cache_hit_rate"`
}

// Snapshot returns a consistent copy of the counters.
func (m *ConversationMetrics) Snapshot() MetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return MetricsSnapshot{
		TotalMessages:       m.totalMessages,
		TotalTokensUsed:     m.totalTokensUsed,
		TotalCacheHits:      m.totalCacheHits,
		TotalCacheCreations: m.totalCacheCreations,
		TotalCost:           m.totalCost,
		CacheHitRate:        formatCacheHitRate(m.totalCacheHits, m.totalCacheCreations),
	}
}

// CacheHitRate formats hits/(hits+creations) as a percentage with one
// decimal, "0.0%" when no cache traffic exists.
func (m *ConversationMetrics) CacheHitRate() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return formatCacheHitRate(m.totalCacheHits, m.totalCacheCreations)
}

func formatCacheHitRate(hits, creations int) string {
	total := hits + creations
	if total == 0 {
		return "0.0%"
	}
	return fmt.Sprintf("%.1f%%", float64(hits)/float64(total)*100)
}
