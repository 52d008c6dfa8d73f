package detect

import (
	"context"
	"math"
	"math/rand"
	"runtime"
	"sort"

	"golang.org/x/sync/errgroup"

	vwerrors "github.com/vibewatch/vibewatch/internal/errors"
	"github.com/vibewatch/vibewatch/pkg/types"
)

// Model constants. They are part of the scoring contract and not configurable.
const (
	DefaultTrees         = 700
	DefaultMaxSamples    = 256
	DefaultContamination = 0.05
	DefaultSeed          = 42
)

const eulerGamma = 0.5772156649

// averagePathLength is c(n), the expected path length of an unsuccessful
// search in a binary search tree of n points.
func averagePathLength(n int) float64 {
	switch {
	case n <= 1:
		return 0
	case n == 2:
		return 1
	}
	fn := float64(n)
	return 2*(math.Log(fn-1)+eulerGamma) - 2*(fn-1)/fn
}

// node is one isolation tree node. Leaves have feature -1.
type node struct {
	feature   int
	threshold float64
	left      int
	right     int
	// cover is the number of training samples that reached the node.
	cover int
	// value is the path length credited to a sample ending in this leaf.
	value float64
}

func (n *node) leaf() bool { return n.feature < 0 }

type isolationTree struct {
	nodes []node
}

// pathLength follows x from the root to a leaf.
func (t *isolationTree) pathLength(x []float64) float64 {
	i := 0
	for !t.nodes[i].leaf() {
		n := &t.nodes[i]
		if x[n.feature] <= n.threshold {
			i = n.left
		} else {
			i = n.right
		}
	}
	return t.nodes[i].value
}

// expectedValue is the cover-weighted mean leaf value of the tree.
func (t *isolationTree) expectedValue() float64 {
	root := float64(t.nodes[0].cover)
	var sum float64
	for i := range t.nodes {
		if t.nodes[i].leaf() {
			sum += float64(t.nodes[i].cover) / root * t.nodes[i].value
		}
	}
	return sum
}

type treeBuilder struct {
	x        [][]float64
	rng      *rand.Rand
	maxDepth int
	nodes    []node
}

func (b *treeBuilder) build(idx []int, depth int) int {
	id := len(b.nodes)
	b.nodes = append(b.nodes, node{feature: -1, cover: len(idx)})

	if depth >= b.maxDepth || len(idx) <= 1 {
		b.nodes[id].value = float64(depth) + averagePathLength(len(idx))
		return id
	}

	width := len(b.x[idx[0]])
	var candidates []int
	for f := 0; f < width; f++ {
		first := b.x[idx[0]][f]
		for _, i := range idx[1:] {
			if b.x[i][f] != first {
				candidates = append(candidates, f)
				break
			}
		}
	}
	if len(candidates) == 0 {
		b.nodes[id].value = float64(depth) + averagePathLength(len(idx))
		return id
	}

	f := candidates[b.rng.Intn(len(candidates))]
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, i := range idx {
		v := b.x[i][f]
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	threshold := lo + b.rng.Float64()*(hi-lo)

	var left, right []int
	for _, i := range idx {
		if b.x[i][f] <= threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}

	l := b.build(left, depth+1)
	r := b.build(right, depth+1)
	b.nodes[id].feature = f
	b.nodes[id].threshold = threshold
	b.nodes[id].left = l
	b.nodes[id].right = r
	return id
}

// IsolationForest is an ensemble of random isolation trees. Scores follow
// the convention that higher means more normal; a sample is anomalous when
// its decision value is below zero.
type IsolationForest struct {
	Trees         int
	MaxSamples    int
	Contamination float64
	Seed          int64

	trees  []isolationTree
	psi    int
	offset float64
	width  int
}

// NewIsolationForest returns a forest with the contract parameters.
func NewIsolationForest() *IsolationForest {
	return &IsolationForest{
		Trees:         DefaultTrees,
		MaxSamples:    DefaultMaxSamples,
		Contamination: DefaultContamination,
		Seed:          DefaultSeed,
	}
}

// Fit grows the forest on x and calibrates the decision offset so that a
// Contamination share of the training rows scores below zero. Trees are
// grown concurrently; each draws from its own generator seeded from Seed,
// so the result does not depend on scheduling.
func (f *IsolationForest) Fit(ctx context.Context, x [][]float64) error {
	n := len(x)
	if n == 0 {
		return vwerrors.NewModelError(vwerrors.CodeEmptyInput, "cannot fit isolation forest on an empty matrix")
	}
	f.width = len(x[0])
	f.psi = f.MaxSamples
	if f.psi > n || f.psi <= 0 {
		f.psi = n
	}
	maxDepth := int(math.Ceil(math.Log2(math.Max(float64(f.psi), 2))))

	master := rand.New(rand.NewSource(f.Seed))
	seeds := make([]int64, f.Trees)
	for i := range seeds {
		seeds[i] = master.Int63()
	}

	f.trees = make([]isolationTree, f.Trees)
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for t := range f.trees {
		t := t
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			rng := rand.New(rand.NewSource(seeds[t]))
			sample := rng.Perm(n)[:f.psi]
			b := &treeBuilder{x: x, rng: rng, maxDepth: maxDepth}
			b.build(sample, 0)
			f.trees[t] = isolationTree{nodes: b.nodes}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	scores, err := f.ScoreSamples(x)
	if err != nil {
		return err
	}
	f.offset = percentile(scores, 100*f.Contamination)
	return nil
}

func (f *IsolationForest) check(x [][]float64) error {
	if f.trees == nil {
		return vwerrors.NewModelError(vwerrors.CodeNotFitted, "isolation forest is not fitted")
	}
	for _, row := range x {
		if len(row) != f.width {
			return vwerrors.NewModelError(vwerrors.CodeShapeMismatch, "row width differs from fitted width")
		}
	}
	return nil
}

// MeanPathLength returns the average path length of x over all trees.
func (f *IsolationForest) MeanPathLength(x []float64) float64 {
	var sum float64
	for i := range f.trees {
		sum += f.trees[i].pathLength(x)
	}
	return sum / float64(len(f.trees))
}

// ScoreSamples returns -2^(-E[h(x)]/c(psi)) for every row. Lower is more
// anomalous.
func (f *IsolationForest) ScoreSamples(x [][]float64) ([]float64, error) {
	if err := f.check(x); err != nil {
		return nil, err
	}
	norm := averagePathLength(f.psi)
	if norm == 0 {
		norm = 1
	}
	out := make([]float64, len(x))
	for i, row := range x {
		out[i] = -math.Pow(2, -f.MeanPathLength(row)/norm)
	}
	return out, nil
}

// Offset is the decision threshold learned during Fit.
func (f *IsolationForest) Offset() float64 { return f.offset }

// DecisionFunction returns ScoreSamples minus the offset.
func (f *IsolationForest) DecisionFunction(x [][]float64) ([]float64, error) {
	scores, err := f.ScoreSamples(x)
	if err != nil {
		return nil, err
	}
	for i := range scores {
		scores[i] -= f.offset
	}
	return scores, nil
}

// Label maps a decision value to a label.
func Label(decision float64) types.Label {
	if decision < 0 {
		return types.LabelAnomalous
	}
	return types.LabelNormal
}

// ExpectedValue is the mean over trees of each tree's cover-weighted leaf
// value; it is the baseline of the TreeSHAP attributions.
func (f *IsolationForest) ExpectedValue() float64 {
	var sum float64
	for i := range f.trees {
		sum += f.trees[i].expectedValue()
	}
	return sum / float64(len(f.trees))
}

// percentile interpolates linearly between closest ranks, p in [0, 100].
func percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return math.NaN()
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	pos := p / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo] + (sorted[hi]-sorted[lo])*frac
}
