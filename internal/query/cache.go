package query

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/campusworks/comp-eval/internal/cache"
	"github.com/campusworks/comp-eval/internal/evaluation"
	"github.com/campusworks/comp-eval/internal/monitoring"
)

// RankingCache provides caching for committed ranking reads. Keys embed the
// term so a write-side commit can drop every entry for that term at once.
type RankingCache struct {
	cache   *cache.Cache
	metrics *monitoring.Metrics
}

// NewRankingCache creates a new ranking cache
func NewRankingCache(ttl time.Duration) *RankingCache {
	return &RankingCache{
		cache: cache.NewCache(ttl),
	}
}

// SetMetrics attaches hit and miss counters to cache reads. Without it the
// cache still works, it just reports nothing.
func (rc *RankingCache) SetMetrics(m *monitoring.Metrics) {
	rc.metrics = m
}

func (rc *RankingCache) recordHit() {
	if rc.metrics != nil {
		rc.metrics.IncrementCacheHit()
	}
}

func (rc *RankingCache) recordMiss() {
	if rc.metrics != nil {
		rc.metrics.IncrementCacheMiss()
	}
}

// generateListKey creates a cache key for a ranking list
func (rc *RankingCache) generateListKey(term evaluation.Term, scope evaluation.RankScope, limit int) string {
	return fmt.Sprintf("%s:list:%s:%d", term.Key(), scope, limit)
}

// generateDetailKey creates a cache key for a student detail
func (rc *RankingCache) generateDetailKey(term evaluation.Term, studentID int64) string {
	return fmt.Sprintf("%s:detail:%d", term.Key(), studentID)
}

// GetRankingList retrieves a cached ranking list
func (rc *RankingCache) GetRankingList(term evaluation.Term, scope evaluation.RankScope, limit int) (*RankingResponse, bool) {
	cacheKey := rc.generateListKey(term, scope, limit)

	data, found := rc.cache.Get(cacheKey)
	if !found {
		rc.recordMiss()
		return nil, false
	}

	var response RankingResponse
	if err := json.Unmarshal(data, &response); err != nil {
		slog.Error("Failed to unmarshal cached ranking list", "error", err, "key", cacheKey)
		rc.recordMiss()
		return nil, false
	}

	rc.recordHit()
	slog.Debug("Ranking list cache hit", "term", term.Key(), "scope", scope, "limit", limit)
	return &response, true
}

// SetRankingList caches a ranking list
func (rc *RankingCache) SetRankingList(term evaluation.Term, scope evaluation.RankScope, limit int, response *RankingResponse) {
	cacheKey := rc.generateListKey(term, scope, limit)

	data, err := json.Marshal(response)
	if err != nil {
		slog.Error("Failed to marshal ranking list for cache", "error", err, "term", term.Key())
		return
	}

	rc.cache.Set(cacheKey, data)
	slog.Debug("Ranking list cached", "term", term.Key(), "scope", scope, "limit", limit, "entries", len(response.Rankings))
}

// GetStudentDetail retrieves a cached student detail
func (rc *RankingCache) GetStudentDetail(term evaluation.Term, studentID int64) (*StudentDetail, bool) {
	cacheKey := rc.generateDetailKey(term, studentID)

	data, found := rc.cache.Get(cacheKey)
	if !found {
		rc.recordMiss()
		return nil, false
	}

	var detail StudentDetail
	if err := json.Unmarshal(data, &detail); err != nil {
		slog.Error("Failed to unmarshal cached student detail", "error", err, "key", cacheKey)
		rc.recordMiss()
		return nil, false
	}

	rc.recordHit()
	slog.Debug("Student detail cache hit", "term", term.Key(), "student_id", studentID)
	return &detail, true
}

// SetStudentDetail caches a student detail
func (rc *RankingCache) SetStudentDetail(term evaluation.Term, studentID int64, detail *StudentDetail) {
	cacheKey := rc.generateDetailKey(term, studentID)

	data, err := json.Marshal(detail)
	if err != nil {
		slog.Error("Failed to marshal student detail for cache", "error", err, "student_id", studentID)
		return
	}

	rc.cache.Set(cacheKey, data)
	slog.Debug("Student detail cached", "term", term.Key(), "student_id", studentID)
}

// InvalidateTerm drops every cached read for the term after a commit
func (rc *RankingCache) InvalidateTerm(term evaluation.Term) {
	removed := rc.cache.DeletePrefix(term.Key() + ":")
	slog.Debug("Ranking cache invalidated", "term", term.Key(), "removed", removed)
}

// GetStats returns cache statistics
func (rc *RankingCache) GetStats() map[string]interface{} {
	return rc.cache.Stats()
}
