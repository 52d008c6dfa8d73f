package detect

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"

	vwerrors "github.com/vibewatch/vibewatch/internal/errors"
)

// pathElement tracks one split feature on the current root-to-node path.
// zero is the share of training cover that follows the path when the
// feature is unknown; one is 1 when x itself follows it, else 0.
type pathElement struct {
	feature int
	zero    float64
	one     float64
	weight  float64
}

// extendPath appends a split to the path and updates the permutation weights.
func extendPath(path []pathElement, zero, one float64, feature int) []pathElement {
	l := len(path)
	out := make([]pathElement, l+1)
	copy(out, path)
	out[l] = pathElement{feature: feature, zero: zero, one: one}
	if l == 0 {
		out[l].weight = 1
	}
	for i := l - 1; i >= 0; i-- {
		out[i+1].weight += one * out[i].weight * float64(i+1) / float64(l+1)
		out[i].weight = zero * out[i].weight * float64(l-i) / float64(l+1)
	}
	return out
}

// unwindPath undoes the extension that added element i.
func unwindPath(path []pathElement, i int) []pathElement {
	l := len(path) - 1
	out := make([]pathElement, len(path))
	copy(out, path)
	one, zero := path[i].one, path[i].zero

	n := out[l].weight
	for j := l - 1; j >= 0; j-- {
		if one != 0 {
			t := out[j].weight
			out[j].weight = n * float64(l+1) / (float64(j+1) * one)
			n = t - out[j].weight*zero*float64(l-j)/float64(l+1)
		} else {
			out[j].weight = out[j].weight * float64(l+1) / (zero * float64(l-j))
		}
	}
	for j := i; j < l; j++ {
		out[j].feature = out[j+1].feature
		out[j].zero = out[j+1].zero
		out[j].one = out[j+1].one
	}
	return out[:l]
}

func unwoundSum(path []pathElement, i int) float64 {
	var sum float64
	for _, e := range unwindPath(path, i) {
		sum += e.weight
	}
	return sum
}

// shap accumulates the exact path-dependent Shapley values of one tree for x
// into phi.
func (t *isolationTree) shap(x, phi []float64) {
	t.recurse(x, phi, 0, nil, 1, 1, -1)
}

func (t *isolationTree) recurse(x, phi []float64, j int, path []pathElement, zero, one float64, feature int) {
	path = extendPath(path, zero, one, feature)
	n := &t.nodes[j]

	if n.leaf() {
		for i := 1; i < len(path); i++ {
			w := unwoundSum(path, i)
			phi[path[i].feature] += w * (path[i].one - path[i].zero) * n.value
		}
		return
	}

	hot, cold := n.left, n.right
	if x[n.feature] > n.threshold {
		hot, cold = cold, hot
	}

	incomingZero, incomingOne := 1.0, 1.0
	for k := 1; k < len(path); k++ {
		if path[k].feature == n.feature {
			incomingZero, incomingOne = path[k].zero, path[k].one
			path = unwindPath(path, k)
			break
		}
	}

	cover := float64(n.cover)
	t.recurse(x, phi, hot, path, incomingZero*float64(t.nodes[hot].cover)/cover, incomingOne, n.feature)
	t.recurse(x, phi, cold, path, incomingZero*float64(t.nodes[cold].cover)/cover, 0, n.feature)
}

// TreeExplainer attributes a forest's mean path length to input features.
// For every row, ExpectedValue plus the sum of the row's attributions equals
// the row's mean path length. Negative attributions shorten the path, which
// pushes the row toward anomalous.
type TreeExplainer struct {
	forest *IsolationForest
}

// NewTreeExplainer wraps a fitted forest.
func NewTreeExplainer(f *IsolationForest) *TreeExplainer {
	return &TreeExplainer{forest: f}
}

// ExpectedValue is the attribution baseline.
func (e *TreeExplainer) ExpectedValue() float64 {
	return e.forest.ExpectedValue()
}

// ShapValue explains a single row.
func (e *TreeExplainer) ShapValue(x []float64) []float64 {
	phi := make([]float64, len(x))
	for i := range e.forest.trees {
		e.forest.trees[i].shap(x, phi)
	}
	k := float64(len(e.forest.trees))
	for i := range phi {
		phi[i] /= k
	}
	return phi
}

// ShapValues explains every row of x concurrently.
func (e *TreeExplainer) ShapValues(ctx context.Context, x [][]float64) ([][]float64, error) {
	if err := e.forest.check(x); err != nil {
		return nil, err
	}
	out := make([][]float64, len(x))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i := range x {
		i := i
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			out[i] = e.ShapValue(x[i])
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, vwerrors.Wrap(vwerrors.ErrCategoryModel, vwerrors.CodeUnexpected, "explain rows", err)
	}
	return out, nil
}
