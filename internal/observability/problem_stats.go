// Package observability provides Prometheus metrics and rolling statistics
// over the problems reported for flagged employees.
package observability

import (
	"sort"
	"sync"
	"time"

	"github.com/vibewatch/vibewatch/pkg/types"
)

// ProblemStats tracks how often each feature is reported as a problem across
// runs, so recurring organisation-wide drivers stand out.
type ProblemStats struct {
	mu       sync.RWMutex
	features map[string]*FeatureStats
	window   time.Duration
	now      func() time.Time
}

// FeatureStats holds the statistics of one feature display name.
type FeatureStats struct {
	Feature string
	// Frequency counts appearances among top problems.
	Frequency int64
	// OtherFrequency counts appearances among other problems.
	OtherFrequency int64
	// TotalMagnitude sums the reported magnitudes of top problems.
	TotalMagnitude float64
	LastSeen       time.Time
}

// MeanMagnitude is the average magnitude over top-problem appearances.
func (f FeatureStats) MeanMagnitude() float64 {
	if f.Frequency == 0 {
		return 0
	}
	return f.TotalMagnitude / float64(f.Frequency)
}

// NewProblemStats creates a tracker whose entries expire after window.
func NewProblemStats(window time.Duration) *ProblemStats {
	return &ProblemStats{
		features: make(map[string]*FeatureStats),
		window:   window,
		now:      time.Now,
	}
}

func (p *ProblemStats) entry(feature string) *FeatureStats {
	s, ok := p.features[feature]
	if !ok {
		s = &FeatureStats{Feature: feature}
		p.features[feature] = s
	}
	return s
}

// Record adds the problems of every flagged employee of one run.
func (p *ProblemStats) Record(flagged []types.AnomalyRecord) {
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	for _, r := range flagged {
		for _, c := range r.Problems {
			s := p.entry(c.Feature)
			s.Frequency++
			s.TotalMagnitude += c.Magnitude
			s.LastSeen = now
		}
		for _, c := range r.OtherProblems {
			s := p.entry(c.Feature)
			s.OtherFrequency++
			s.LastSeen = now
		}
	}
}

// Top returns copies of the n most frequent top-problem features, ties
// broken by mean magnitude and then name.
func (p *ProblemStats) Top(n int) []FeatureStats {
	if p == nil {
		return nil
	}
	p.mu.RLock()
	defer p.mu.RUnlock()

	if n <= 0 || len(p.features) == 0 {
		return []FeatureStats{}
	}
	stats := make([]FeatureStats, 0, len(p.features))
	for _, s := range p.features {
		stats = append(stats, *s)
	}
	sort.Slice(stats, func(i, j int) bool {
		a, b := stats[i], stats[j]
		if a.Frequency != b.Frequency {
			return a.Frequency > b.Frequency
		}
		if a.MeanMagnitude() != b.MeanMagnitude() {
			return a.MeanMagnitude() > b.MeanMagnitude()
		}
		return a.Feature < b.Feature
	})
	if n > len(stats) {
		n = len(stats)
	}
	return stats[:n]
}

// Prune removes entries not seen within the window.
func (p *ProblemStats) Prune() {
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	threshold := p.now().Add(-p.window)
	for name, s := range p.features {
		if s.LastSeen.Before(threshold) {
			delete(p.features, name)
		}
	}
}
