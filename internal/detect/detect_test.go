package detect

import (
	"bytes"
	"context"
	"math"
	"math/rand"
	"path/filepath"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	vwerrors "github.com/vibewatch/vibewatch/internal/errors"
	"github.com/vibewatch/vibewatch/internal/table"
	"github.com/vibewatch/vibewatch/pkg/types"
)

// syntheticMaster builds n employees with a handful of clear outliers at the
// start of the table.
func syntheticMaster(n, outliers int, seed int64) *table.Table {
	rng := rand.New(rand.NewSource(seed))
	ids := make([]string, n)
	feedback := make([]string, n)
	manager := make([]string, n)
	labels := []string{"Poor", "Average", "Good", "Excellent"}
	ratings := []string{"Needs Improvement", "Meets Expectations", "Exceeds Expectations"}

	cols := make(map[string][]float64)
	for _, f := range Features {
		cols[f] = make([]float64, n)
	}
	for i := 0; i < n; i++ {
		ids[i] = "EMP" + string(rune('0'+i/100)) + string(rune('0'+(i/10)%10)) + string(rune('0'+i%10))
		feedback[i] = labels[rng.Intn(len(labels))]
		manager[i] = ratings[rng.Intn(len(ratings))]
		for _, f := range Features {
			cols[f][i] = 10 + rng.NormFloat64()
		}
		if i < outliers {
			cols["Work_Hours_mean"][i] = 25 + rng.Float64()
			cols["Decayed_Vibe"][i] = -10 - rng.Float64()
			cols["Sick Leave_Factor"][i] = 30 + rng.Float64()
		}
	}

	tblCols := []*table.Column{
		table.StringColumn("Employee_ID", ids, nil),
		table.StringColumn("Onboarding_Feedback", feedback, nil),
		table.StringColumn("Manager_Feedback", manager, nil),
	}
	for _, f := range Features {
		if f == "Onboarding_Feedback_Encoded" || f == "Manager_Feedback_Encoded" {
			continue
		}
		tblCols = append(tblCols, table.FloatColumn(f, cols[f], nil))
	}
	tblCols = append(tblCols, table.FloatColumn("Performance_Rating", cols["Work_Hours_median"], nil))
	return table.MustNew(tblCols...)
}

func smallForest(trees int, contamination float64) func() *IsolationForest {
	return func() *IsolationForest {
		f := NewIsolationForest()
		f.Trees = trees
		f.Contamination = contamination
		return f
	}
}

func TestAveragePathLength(t *testing.T) {
	assert.Equal(t, 0.0, averagePathLength(0))
	assert.Equal(t, 0.0, averagePathLength(1))
	assert.Equal(t, 1.0, averagePathLength(2))
	assert.InDelta(t, 10.2448, averagePathLength(256), 1e-3)
}

func TestPercentile_Linear(t *testing.T) {
	assert.Equal(t, 2.5, percentile([]float64{4, 1, 3, 2}, 50))
	assert.Equal(t, 1.0, percentile([]float64{4, 1, 3, 2}, 0))
	vals := make([]float64, 100)
	for i := range vals {
		vals[i] = float64(100 - i)
	}
	assert.InDelta(t, 5.95, percentile(vals, 5), 1e-12)
}

func TestMedianImputer(t *testing.T) {
	nan := math.NaN()
	x := [][]float64{
		{1, nan, nan},
		{3, 10, nan},
		{nan, 20, nan},
		{2, 30, nan},
	}
	m := &MedianImputer{}
	out, err := m.FitTransform(x)
	require.NoError(t, err)
	assert.Equal(t, []int{2}, m.Dropped())
	assert.Equal(t, []int{0, 1}, m.Kept())
	assert.Equal(t, [][]float64{{1, 20}, {3, 10}, {2, 20}, {2, 30}}, out)

	_, err = (&MedianImputer{}).Transform(x)
	assert.Equal(t, vwerrors.CodeNotFitted, vwerrors.GetCode(err))
}

func TestStandardScaler_Properties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("standardised columns have zero mean and unit variance", prop.ForAll(
		func(seed int64, rows int) bool {
			rng := rand.New(rand.NewSource(seed))
			x := make([][]float64, rows)
			for i := range x {
				x[i] = []float64{rng.NormFloat64() * 50, rng.ExpFloat64(), float64(i)}
			}
			xs, err := (&StandardScaler{}).FitTransform(x)
			if err != nil {
				return false
			}
			for j := 0; j < 3; j++ {
				var sum, sq float64
				for i := range xs {
					sum += xs[i][j]
				}
				mean := sum / float64(rows)
				for i := range xs {
					sq += (xs[i][j] - mean) * (xs[i][j] - mean)
				}
				if math.Abs(mean) > 1e-9 || math.Abs(sq/float64(rows)-1) > 1e-9 {
					return false
				}
			}
			return true
		},
		gen.Int64(), gen.IntRange(2, 200),
	))

	properties.TestingRun(t)
}

func TestStandardScaler_ConstantColumn(t *testing.T) {
	xs, err := (&StandardScaler{}).FitTransform([][]float64{{0.1, 1}, {0.1, 2}, {0.1, 3}})
	require.NoError(t, err)
	for _, row := range xs {
		assert.InDelta(t, 0, row[0], 1e-12)
	}
}

func TestTreeShap_SingleSplit(t *testing.T) {
	tree := isolationTree{nodes: []node{
		{feature: 0, threshold: 0.5, left: 1, right: 2, cover: 2},
		{feature: -1, cover: 1, value: 1},
		{feature: -1, cover: 1, value: 3},
	}}
	phi := make([]float64, 2)
	tree.shap([]float64{0, 9}, phi)
	assert.InDelta(t, -1.0, phi[0], 1e-12)
	assert.Equal(t, 0.0, phi[1])
	assert.InDelta(t, 2.0, tree.expectedValue(), 1e-12)
}

func TestTreeShap_LocalAccuracy(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	x := make([][]float64, 120)
	for i := range x {
		x[i] = make([]float64, 6)
		for j := range x[i] {
			x[i][j] = rng.NormFloat64()
		}
	}
	forest := NewIsolationForest()
	forest.Trees = 40
	require.NoError(t, forest.Fit(context.Background(), x))

	explainer := NewTreeExplainer(forest)
	phis, err := explainer.ShapValues(context.Background(), x[:15])
	require.NoError(t, err)
	for i, phi := range phis {
		sum := explainer.ExpectedValue()
		for _, v := range phi {
			sum += v
		}
		assert.InDelta(t, forest.MeanPathLength(x[i]), sum, 1e-9, "row %d", i)
	}
}

func TestIsolationForest_Deterministic(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	x := make([][]float64, 60)
	for i := range x {
		x[i] = []float64{rng.NormFloat64(), rng.NormFloat64()}
	}
	a, b := NewIsolationForest(), NewIsolationForest()
	a.Trees, b.Trees = 50, 50
	require.NoError(t, a.Fit(context.Background(), x))
	require.NoError(t, b.Fit(context.Background(), x))

	sa, err := a.DecisionFunction(x)
	require.NoError(t, err)
	sb, err := b.DecisionFunction(x)
	require.NoError(t, err)
	assert.Equal(t, sa, sb)
	assert.Equal(t, a.Offset(), b.Offset())
}

func TestIsolationForest_NotFittedAndShape(t *testing.T) {
	f := NewIsolationForest()
	_, err := f.ScoreSamples([][]float64{{1}})
	assert.Equal(t, vwerrors.CodeNotFitted, vwerrors.GetCode(err))

	f.Trees = 5
	require.NoError(t, f.Fit(context.Background(), [][]float64{{1, 2}, {3, 4}}))
	_, err = f.ScoreSamples([][]float64{{1}})
	assert.Equal(t, vwerrors.CodeShapeMismatch, vwerrors.GetCode(err))
}

func TestEncode(t *testing.T) {
	master := table.MustNew(
		table.StringColumn("Employee_ID", []string{"A", "B", "C"}, nil),
		table.StringColumn("Onboarding_Feedback", []string{"Poor", "Good", ""}, []bool{true, true, false}),
		table.StringColumn("Manager_Feedback", []string{"Excellent", "Needs Improvement", "Poor"}, nil),
		table.BoolColumn("Mentor_Assigned", []bool{true, false, false}, []bool{true, true, false}),
		table.StringColumn("Promotion_Consideration", []string{"True", "False", "TRUE"}, nil),
	)
	enc, err := Encode(master)
	require.NoError(t, err)

	get := func(col string) []float64 {
		c, ok := enc.Column(col)
		require.True(t, ok, col)
		return c.Floats()
	}
	onb := get("Onboarding_Feedback_Encoded")
	assert.Equal(t, 1.0, onb[0])
	assert.True(t, math.IsNaN(onb[1]), "Good has no encoding")
	assert.True(t, math.IsNaN(onb[2]))

	assert.Equal(t, []float64{5, 2, 1}, get("Manager_Feedback_Encoded"))
	mentor := get("Mentor_Assigned_Encoded")
	assert.Equal(t, []float64{1, 0}, mentor[:2])
	assert.True(t, math.IsNaN(mentor[2]))
	assert.Equal(t, []float64{1, 0, 1}, get("Promotion_Consideration_Encoded"))
	training := get("Initial_Training_Completed_Encoded")
	assert.True(t, math.IsNaN(training[0]))

	bad := table.MustNew(
		table.StringColumn("Employee_ID", []string{"A"}, nil),
		table.StringColumn("Manager_Feedback", []string{"Outstanding"}, nil),
	)
	_, err = Encode(bad)
	assert.Equal(t, vwerrors.CodeUnknownCategory, vwerrors.GetCode(err))
}

func TestRank(t *testing.T) {
	names := []string{"Work_Hours_mean", "Decayed_Vibe", "a", "b", "c", "d", "e", "f"}
	phi := []float64{-0.5, 0.3, -0.1, -0.7, -0.2, 0, -0.05, -0.3}
	problems, other := Rank(phi, names)

	require.Len(t, problems, 5)
	assert.Equal(t, "b", problems[0].Feature)
	assert.Equal(t, 0.7, problems[0].Magnitude)
	assert.Equal(t, "Average Work Hours per Day", problems[1].Feature)
	for i := 1; i < len(problems); i++ {
		assert.GreaterOrEqual(t, problems[i-1].Magnitude, problems[i].Magnitude)
	}
	require.Len(t, other, 1)
	assert.Equal(t, "e", other[0].Feature)
	assert.Equal(t, 0.05, other[0].Magnitude)

	problems, other = Rank([]float64{0.1, 0}, names[:2])
	assert.Empty(t, problems)
	assert.Empty(t, other)
	s, err := EncodeContributions(other)
	require.NoError(t, err)
	assert.Equal(t, "[]", s)
}

func TestDetect_FlagsAboutFivePercent(t *testing.T) {
	d := NewDetector(zap.NewNop())
	d.newForest = smallForest(150, DefaultContamination)

	res, err := d.Detect(context.Background(), syntheticMaster(100, 3, 11))
	require.NoError(t, err)

	assert.GreaterOrEqual(t, len(res.Flagged), 4)
	assert.LessOrEqual(t, len(res.Flagged), 6)
	assert.Equal(t, Features, res.FeatureNames)

	flagged := make(map[string]bool)
	for i, r := range res.Flagged {
		flagged[r.EmployeeID] = true
		assert.Less(t, r.Score, 0.0)
		if i > 0 {
			assert.LessOrEqual(t, res.Flagged[i-1].Score, r.Score)
		}
		assert.LessOrEqual(t, len(r.Problems), TopProblems)
		for k, p := range r.Problems {
			assert.Greater(t, p.Magnitude, 0.0)
			if k > 0 {
				assert.GreaterOrEqual(t, r.Problems[k-1].Magnitude, p.Magnitude)
			}
		}
		if len(r.OtherProblems) > 0 {
			assert.Len(t, r.Problems, TopProblems)
			assert.LessOrEqual(t, r.OtherProblems[0].Magnitude, r.Problems[TopProblems-1].Magnitude)
		}
		assert.True(t, r.AverageWorkHours.Valid)
	}
	for _, id := range []string{"EMP000", "EMP001", "EMP002"} {
		assert.True(t, flagged[id], "planted outlier %s should be flagged", id)
	}

	var anomalous int
	for i, l := range res.Labels {
		if l == types.LabelAnomalous {
			anomalous++
			assert.Less(t, res.Scores[i], 0.0)
		}
	}
	assert.Equal(t, len(res.Flagged), anomalous)
}

func TestDetect_ShapeMismatchFallsBackToPositionalNames(t *testing.T) {
	master := syntheticMaster(40, 2, 5).Drop("Onboarding_Feedback")
	d := NewDetector(zap.NewNop())
	d.newForest = smallForest(50, DefaultContamination)

	res, err := d.Detect(context.Background(), master)
	require.NoError(t, err)
	assert.Equal(t, []string{"Onboarding_Feedback_Encoded"}, res.Dropped)
	require.Len(t, res.FeatureNames, len(Features)-1)
	assert.Equal(t, "f0", res.FeatureNames[0])
	for _, r := range res.Flagged {
		for _, p := range r.Problems {
			assert.Regexp(t, `^f\d+$`, p.Feature)
		}
	}
}

func TestDetect_ZeroAnomalies(t *testing.T) {
	d := NewDetector(zap.NewNop())
	d.newForest = smallForest(30, 0)

	res, err := d.Detect(context.Background(), syntheticMaster(30, 0, 9))
	require.NoError(t, err)
	assert.Empty(t, res.Flagged)

	summary, err := SummaryTable(res.Flagged)
	require.NoError(t, err)
	var buf bytes.Buffer
	require.NoError(t, summary.WriteCSV(&buf))
	assert.Equal(t, "Employee_ID,Problems,Other Problems,Anomaly_Score,Average Work Hours,Reward Factor,Performance Rating,Vibe Factor\n", buf.String())
}

func TestDetect_EmptyMaster(t *testing.T) {
	empty := table.MustNew(table.StringColumn("Employee_ID", []string{}, nil))
	_, err := NewDetector(nil).Detect(context.Background(), empty)
	assert.Equal(t, vwerrors.CodeEmptyInput, vwerrors.GetCode(err))
}

func TestSummaryTable(t *testing.T) {
	summary, err := SummaryTable([]types.AnomalyRecord{{
		EmployeeID:       "EMP1",
		Score:            -0.02,
		Problems:         []types.Contribution{{Feature: "Decayed Vibe Score", Magnitude: 0.25}},
		AverageWorkHours: types.Some(9.5),
	}})
	require.NoError(t, err)
	var buf bytes.Buffer
	require.NoError(t, summary.WriteCSV(&buf))
	assert.Equal(t,
		"Employee_ID,Problems,Other Problems,Anomaly_Score,Average Work Hours,Reward Factor,Performance Rating,Vibe Factor\n"+
			"EMP1,\"[[\"\"Decayed Vibe Score\"\",0.25]]\",[],-0.02,9.5,,,\n",
		buf.String())
}

func TestDetectFiles_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "master_df.csv")
	out := filepath.Join(dir, "anomaly_summary.csv")
	require.NoError(t, syntheticMaster(60, 3, 21).WriteCSVFile(in))

	res, err := DetectFiles(context.Background(), in, out, zap.NewNop())
	require.NoError(t, err)

	summary, err := table.ReadCSVFile(out)
	require.NoError(t, err)
	assert.Equal(t, SummaryColumns, summary.Names())
	assert.Equal(t, len(res.Flagged), summary.Len())

	if summary.Len() > 0 {
		c, _ := summary.Column(ColProblems)
		s, _ := c.String(0)
		problems, err := DecodeContributions(s)
		require.NoError(t, err)
		assert.Equal(t, res.Flagged[0].Problems, problems)
	}
}

func TestDetectFiles_MissingInput(t *testing.T) {
	dir := t.TempDir()
	_, err := DetectFiles(context.Background(), filepath.Join(dir, "nope.csv"), filepath.Join(dir, "out.csv"), nil)
	assert.Equal(t, vwerrors.CodeMissingFile, vwerrors.GetCode(err))
}
