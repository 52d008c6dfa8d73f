package detect

import (
	"encoding/json"
	"math"
	"sort"
	"strconv"

	"github.com/vibewatch/vibewatch/pkg/types"
)

// TopProblems is how many contributions are reported as Problems; the rest
// go to Other Problems.
const TopProblems = 5

// FeatureNames returns the names used to label attribution columns. When the
// model width differs from the feature list (an all-null feature was dropped
// by the imputer) the names fall back to positional keys f0..fN and ok is false.
func FeatureNames(width int) (names []string, ok bool) {
	if width == len(Features) {
		return append([]string(nil), Features...), true
	}
	names = make([]string, width)
	for i := range names {
		names[i] = "f" + strconv.Itoa(i)
	}
	return names, false
}

// Rank keeps the strictly negative attributions, orders them by magnitude
// descending and splits them into the top TopProblems and the rest. Reported
// magnitudes are absolute values; names are display names where known.
func Rank(phi []float64, names []string) (problems, other []types.Contribution) {
	var idx []int
	for i, v := range phi {
		if v < 0 {
			idx = append(idx, i)
		}
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return math.Abs(phi[idx[a]]) > math.Abs(phi[idx[b]])
	})

	problems = make([]types.Contribution, 0, TopProblems)
	other = []types.Contribution{}
	for rank, i := range idx {
		c := types.Contribution{Feature: DisplayName(names[i]), Magnitude: math.Abs(phi[i])}
		if rank < TopProblems {
			problems = append(problems, c)
		} else {
			other = append(other, c)
		}
	}
	return problems, other
}

// EncodeContributions renders contributions as a JSON list of
// [name, magnitude] pairs. An empty list encodes as [].
func EncodeContributions(cs []types.Contribution) (string, error) {
	if cs == nil {
		cs = []types.Contribution{}
	}
	b, err := json.Marshal(cs)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// DecodeContributions parses the JSON list produced by EncodeContributions.
func DecodeContributions(s string) ([]types.Contribution, error) {
	var cs []types.Contribution
	if s == "" {
		return cs, nil
	}
	if err := json.Unmarshal([]byte(s), &cs); err != nil {
		return nil, err
	}
	return cs, nil
}
