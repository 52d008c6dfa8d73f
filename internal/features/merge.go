package features

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	vwerrors "github.com/vibewatch/vibewatch/internal/errors"
	"github.com/vibewatch/vibewatch/internal/ingest"
	"github.com/vibewatch/vibewatch/internal/table"
	"github.com/vibewatch/vibewatch/pkg/types"
)

// Sources holds the decoded events of one dataset snapshot.
type Sources struct {
	Activity    []types.ActivityEvent
	Leave       []types.LeaveEvent
	Onboarding  []types.OnboardingEvent
	Performance []types.PerformanceEvent
	Rewards     []types.RewardEvent
	Mood        []types.MoodEvent
}

// Paths locates the six extracts of a snapshot on disk.
type Paths struct {
	Activity    string
	Leave       string
	Onboarding  string
	Performance string
	Rewards     string
	Mood        string
}

// Get returns the path of one source.
func (p Paths) Get(src types.Source) string {
	switch src {
	case types.SourceActivity:
		return p.Activity
	case types.SourceLeave:
		return p.Leave
	case types.SourceOnboarding:
		return p.Onboarding
	case types.SourcePerformance:
		return p.Performance
	case types.SourceRewards:
		return p.Rewards
	case types.SourceMood:
		return p.Mood
	}
	return ""
}

// Set assigns the path of one source.
func (p *Paths) Set(src types.Source, path string) {
	switch src {
	case types.SourceActivity:
		p.Activity = path
	case types.SourceLeave:
		p.Leave = path
	case types.SourceOnboarding:
		p.Onboarding = path
	case types.SourcePerformance:
		p.Performance = path
	case types.SourceRewards:
		p.Rewards = path
	case types.SourceMood:
		p.Mood = path
	}
}

// Validate reports the first source without a path.
func (p Paths) Validate() error {
	for _, src := range types.AllSources() {
		if p.Get(src) == "" {
			return vwerrors.New(vwerrors.ErrCategoryInput, vwerrors.CodeMissingFile, "no path given for source").
				WithDetails(map[string]interface{}{"source": string(src)})
		}
	}
	return nil
}

// LoadSources decodes the six extracts concurrently. The first failure
// cancels the rest.
func LoadSources(ctx context.Context, paths Paths) (*Sources, error) {
	if err := paths.Validate(); err != nil {
		return nil, err
	}
	var src Sources
	g, ctx := errgroup.WithContext(ctx)
	load := func(fn func() error) {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			return fn()
		})
	}
	load(func() (err error) { src.Activity, err = ingest.LoadActivity(paths.Activity); return })
	load(func() (err error) { src.Leave, err = ingest.LoadLeave(paths.Leave); return })
	load(func() (err error) { src.Onboarding, err = ingest.LoadOnboarding(paths.Onboarding); return })
	load(func() (err error) { src.Performance, err = ingest.LoadPerformance(paths.Performance); return })
	load(func() (err error) { src.Rewards, err = ingest.LoadRewards(paths.Rewards); return })
	load(func() (err error) { src.Mood, err = ingest.LoadMood(paths.Mood); return })
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &src, nil
}

// Merge summarises every source and full-outer-joins the summaries on
// Employee_ID. The result has exactly one row per employee seen in any
// source, sorted by employee id; columns a source does not cover for an
// employee are null.
func Merge(src *Sources) (*table.Table, error) {
	steps := []struct {
		name string
		fn   func() (*table.Table, error)
	}{
		{"activity", func() (*table.Table, error) { return SummarizeActivity(src.Activity) }},
		{"leave", func() (*table.Table, error) { return SummarizeLeave(src.Leave) }},
		{"onboarding", func() (*table.Table, error) { return SummarizeOnboarding(src.Onboarding) }},
		{"performance", func() (*table.Table, error) { return SummarizePerformance(src.Performance) }},
		{"rewards", func() (*table.Table, error) { return SummarizeRewards(src.Rewards) }},
		{"mood", func() (*table.Table, error) { return SummarizeMood(src.Mood) }},
	}

	summaries := make([]*table.Table, 0, len(steps))
	for _, s := range steps {
		t, err := s.fn()
		if err != nil {
			return nil, fmt.Errorf("summarize %s: %w", s.name, err)
		}
		summaries = append(summaries, t)
	}

	master, err := table.OuterJoin(ColEmployeeID, summaries...)
	if err != nil {
		return nil, vwerrors.NewInternalError("join summaries", err)
	}
	return master.Drop(ColDecayedEmotionZone), nil
}

// MergeFiles loads the six extracts, merges them and writes the master table
// to outPath. Nothing is written unless every step succeeds.
func MergeFiles(ctx context.Context, paths Paths, outPath string) (*table.Table, error) {
	src, err := LoadSources(ctx, paths)
	if err != nil {
		return nil, err
	}
	master, err := Merge(src)
	if err != nil {
		return nil, err
	}
	if err := master.WriteCSVFile(outPath); err != nil {
		return nil, vwerrors.NewStorageError(vwerrors.CodeWriteFailed, "write master table", err)
	}
	return master, nil
}
