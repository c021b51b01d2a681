package memory

import (
	"math"
	"time"
)

type HealthStatus string

const (
	HealthEmpty    HealthStatus = "empty"
	HealthHealthy  HealthStatus = "healthy"
	HealthDegraded HealthStatus = "degraded"
	HealthCritical HealthStatus = "critical"
)

const (
	DegradedEmotionalRatio = 0.3
	CriticalEmotionalRatio = 0.4

	DefaultCleanupDays  = 7
	DegradedCleanupDays = 5
	CriticalCleanupDays = 3
)

// Health summarises the emotional balance of the store.
type Health struct {
	Status                 HealthStatus `json:"status"`
	Score                  float64      `json:"score"`
	Total                  int          `json:"total_memories"`
	Emotional              int          `json:"emotional_memories"`
	EmotionalRatio         float64      `json:"emotional_ratio"`
	AvgAccesses            float64      `json:"avg_accesses"`
	ImportantRatio         float64      `json:"important_ratio"`
	RecommendedCleanupDays int          `json:"recommended_cleanup_days"`
}

// Health computes the current health report.
func (s *Store) Health() Health {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return healthOf(s.entries)
}

func healthOf(entries map[string]*Entry) Health {
	total := len(entries)
	if total == 0 {
		return Health{Status: HealthEmpty, RecommendedCleanupDays: DefaultCleanupDays}
	}

	emotional, important, accesses := 0, 0, 0
	kinds := map[Kind]struct{}{}
	for _, e := range entries {
		if e.Type == TypeEmotional {
			emotional++
		}
		if e.Importance == ImportanceHigh || e.Importance == ImportanceCritical {
			important++
		}
		accesses += e.AccessCount
		kinds[e.Kind] = struct{}{}
	}
	ratio := float64(emotional) / float64(total)
	avgAccess := float64(accesses) / float64(total)
	importantRatio := float64(important) / float64(total)

	score := importantRatio * 50
	if avgAccess > 1 {
		score += math.Min(30, avgAccess*10)
	}
	score += float64(len(kinds)) * 5
	if ratio > DegradedEmotionalRatio {
		score -= (ratio - DegradedEmotionalRatio) * 100
	}
	score = math.Max(0, math.Min(100, score))

	h := Health{
		Status:                 HealthHealthy,
		Score:                  math.Round(score*10) / 10,
		Total:                  total,
		Emotional:              emotional,
		EmotionalRatio:         ratio,
		AvgAccesses:            avgAccess,
		ImportantRatio:         importantRatio,
		RecommendedCleanupDays: DefaultCleanupDays,
	}
	switch {
	case ratio > CriticalEmotionalRatio:
		h.Status = HealthCritical
		h.RecommendedCleanupDays = CriticalCleanupDays
	case ratio > DegradedEmotionalRatio:
		h.Status = HealthDegraded
		h.RecommendedCleanupDays = DegradedCleanupDays
	}
	return h
}

// Summary is the aggregate view used by diagnostics.
type Summary struct {
	Total        int                `json:"total_memories"`
	ByType       map[Type]int       `json:"by_type"`
	ByKind       map[Kind]int       `json:"by_kind"`
	ByImportance map[Importance]int `json:"by_importance"`
	Retrievals   int                `json:"total_retrievals"`
	LastCleanup  *time.Time         `json:"last_cleanup,omitempty"`
	Health       Health             `json:"health"`
}

func (s *Store) Summary() Summary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sum := Summary{
		Total:        len(s.entries),
		ByType:       map[Type]int{},
		ByKind:       map[Kind]int{},
		ByImportance: map[Importance]int{},
		Retrievals:   s.retrievals,
		Health:       healthOf(s.entries),
	}
	for _, e := range s.entries {
		sum.ByType[e.Type]++
		sum.ByKind[e.Kind]++
		sum.ByImportance[e.Importance]++
	}
	if !s.lastCleanup.IsZero() {
		t := s.lastCleanup
		sum.LastCleanup = &t
	}
	return sum
}
