package detect

import (
	"context"
	"math"
	"sort"
	"time"

	"go.uber.org/zap"

	vwerrors "github.com/vibewatch/vibewatch/internal/errors"
	"github.com/vibewatch/vibewatch/internal/logging"
	"github.com/vibewatch/vibewatch/internal/table"
	"github.com/vibewatch/vibewatch/pkg/types"
)

// Summary column names.
const (
	ColEmployeeID        = "Employee_ID"
	ColProblems          = "Problems"
	ColOtherProblems     = "Other Problems"
	ColAnomalyScore      = "Anomaly_Score"
	ColAverageWorkHours  = "Average Work Hours"
	ColRewardFactor      = "Reward Factor"
	ColPerformanceRating = "Performance Rating"
	ColVibeFactor        = "Vibe Factor"
)

// SummaryColumns lists the distress summary header in order.
var SummaryColumns = []string{
	ColEmployeeID, ColProblems, ColOtherProblems, ColAnomalyScore,
	ColAverageWorkHours, ColRewardFactor, ColPerformanceRating, ColVibeFactor,
}

// Result is the outcome of one detection run.
type Result struct {
	// Flagged holds the anomalous employees, most anomalous first.
	Flagged []types.AnomalyRecord

	// Per master-table row, in master order.
	EmployeeIDs []string
	Scores      []float64
	Labels      []types.Label

	FeatureNames  []string
	Dropped       []string
	Offset        float64
	ExpectedValue float64
}

// Detector runs encode, impute, scale, fit, score and explain over a master
// table. Every call fits a fresh model.
type Detector struct {
	logger    *zap.Logger
	newForest func() *IsolationForest
}

// NewDetector returns a detector using the contract model parameters.
func NewDetector(logger *zap.Logger) *Detector {
	return &Detector{logger: logging.OrNop(logger), newForest: NewIsolationForest}
}

// Detect scores every employee of master and explains the anomalous ones.
func (d *Detector) Detect(ctx context.Context, master *table.Table) (*Result, error) {
	if master.Len() == 0 {
		return nil, vwerrors.New(vwerrors.ErrCategoryInput, vwerrors.CodeEmptyInput, "master table has no rows")
	}
	ids, err := master.Keys(ColEmployeeID)
	if err != nil {
		return nil, vwerrors.Wrap(vwerrors.ErrCategoryInput, vwerrors.CodeMissingColumn, "master table key", err)
	}

	encoded, err := Encode(master)
	if err != nil {
		return nil, err
	}
	x, err := Matrix(encoded, Features)
	if err != nil {
		return nil, err
	}

	imputer := &MedianImputer{}
	xi, err := imputer.FitTransform(x)
	if err != nil {
		return nil, err
	}
	var dropped []string
	for _, j := range imputer.Dropped() {
		dropped = append(dropped, Features[j])
	}
	if len(dropped) > 0 {
		d.logger.Warn("features without any observed value were dropped", zap.Strings("features", dropped))
	}

	scaler := &StandardScaler{}
	xs, err := scaler.FitTransform(xi)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	forest := d.newForest()
	if err := forest.Fit(ctx, xs); err != nil {
		return nil, err
	}
	decision, err := forest.DecisionFunction(xs)
	if err != nil {
		return nil, err
	}
	d.logger.Debug("isolation forest fitted",
		zap.Int("rows", len(xs)),
		zap.Int("width", len(xs[0])),
		zap.Float64("offset", forest.Offset()),
		zap.Duration("elapsed", time.Since(start)))

	labels := make([]types.Label, len(decision))
	var anomalous []int
	for i, v := range decision {
		labels[i] = Label(v)
		if labels[i] == types.LabelAnomalous {
			anomalous = append(anomalous, i)
		}
	}

	names, ok := FeatureNames(len(xs[0]))
	if !ok {
		d.logger.Warn("attribution width differs from the feature list, using positional names",
			zap.Int("width", len(xs[0])),
			zap.Int("features", len(Features)))
	}

	explainer := NewTreeExplainer(forest)
	rows := make([][]float64, len(anomalous))
	for k, i := range anomalous {
		rows[k] = xs[i]
	}
	phis, err := explainer.ShapValues(ctx, rows)
	if err != nil {
		return nil, err
	}

	display, err := displayColumns(master)
	if err != nil {
		return nil, err
	}

	flagged := make([]types.AnomalyRecord, len(anomalous))
	for k, i := range anomalous {
		problems, other := Rank(phis[k], names)
		flagged[k] = types.AnomalyRecord{
			EmployeeID:        ids[i],
			Score:             decision[i],
			Label:             types.LabelAnomalous,
			Problems:          problems,
			OtherProblems:     other,
			AverageWorkHours:  display[0][i],
			RewardFactor:      display[1][i],
			PerformanceRating: display[2][i],
			VibeFactor:        display[3][i],
		}
	}
	sort.SliceStable(flagged, func(a, b int) bool { return flagged[a].Score < flagged[b].Score })

	if len(flagged) == 0 {
		d.logger.Warn("no anomalies detected", zap.Int("employees", len(ids)))
	} else {
		d.logger.Info("anomalies detected", zap.Int("employees", len(ids)), zap.Int("flagged", len(flagged)))
	}

	return &Result{
		Flagged:       flagged,
		EmployeeIDs:   ids,
		Scores:        decision,
		Labels:        labels,
		FeatureNames:  names,
		Dropped:       dropped,
		Offset:        forest.Offset(),
		ExpectedValue: explainer.ExpectedValue(),
	}, nil
}

// displayColumns reads the four master columns carried into the summary.
func displayColumns(master *table.Table) ([4][]types.OptionalFloat, error) {
	var out [4][]types.OptionalFloat
	for k, name := range []string{"Work_Hours_mean", "Total_Decayed_Reward_Points", "Performance_Rating", "Decayed_Vibe"} {
		vals, err := floats(master, name)
		if err != nil {
			return out, err
		}
		col := make([]types.OptionalFloat, len(vals))
		for i, v := range vals {
			if !math.IsNaN(v) {
				col[i] = types.Some(v)
			}
		}
		out[k] = col
	}
	return out, nil
}

// SummaryTable renders flagged records as the distress summary table. An
// empty input yields a header-only table.
func SummaryTable(records []types.AnomalyRecord) (*table.Table, error) {
	n := len(records)
	ids := make([]string, n)
	problems := make([]string, n)
	other := make([]string, n)
	scores := make([]float64, n)
	display := [4]struct {
		vals  []float64
		valid []bool
	}{}
	for k := range display {
		display[k].vals = make([]float64, n)
		display[k].valid = make([]bool, n)
	}

	for i, r := range records {
		ids[i] = r.EmployeeID
		var err error
		if problems[i], err = EncodeContributions(r.Problems); err != nil {
			return nil, err
		}
		if other[i], err = EncodeContributions(r.OtherProblems); err != nil {
			return nil, err
		}
		scores[i] = r.Score
		for k, v := range []types.OptionalFloat{r.AverageWorkHours, r.RewardFactor, r.PerformanceRating, r.VibeFactor} {
			display[k].vals[i], display[k].valid[i] = v.Value, v.Valid
		}
	}

	return table.New(
		table.StringColumn(ColEmployeeID, ids, nil),
		table.StringColumn(ColProblems, problems, nil),
		table.StringColumn(ColOtherProblems, other, nil),
		table.FloatColumn(ColAnomalyScore, scores, nil),
		table.FloatColumn(ColAverageWorkHours, display[0].vals, display[0].valid),
		table.FloatColumn(ColRewardFactor, display[1].vals, display[1].valid),
		table.FloatColumn(ColPerformanceRating, display[2].vals, display[2].valid),
		table.FloatColumn(ColVibeFactor, display[3].vals, display[3].valid),
	)
}

// DetectFiles reads the master table at inPath, runs detection and writes the
// distress summary to outPath. Nothing is written if any step fails.
func DetectFiles(ctx context.Context, inPath, outPath string, logger *zap.Logger) (*Result, error) {
	master, err := table.ReadCSVFile(inPath)
	if err != nil {
		return nil, vwerrors.Wrap(vwerrors.ErrCategoryInput, vwerrors.CodeMissingFile, "read master table", err).
			WithDetails(map[string]interface{}{"file": inPath})
	}
	res, err := NewDetector(logger).Detect(ctx, master)
	if err != nil {
		return nil, err
	}
	summary, err := SummaryTable(res.Flagged)
	if err != nil {
		return nil, vwerrors.NewInternalError("render summary", err)
	}
	if err := summary.WriteCSVFile(outPath); err != nil {
		return nil, vwerrors.NewStorageError(vwerrors.CodeWriteFailed, "write anomaly summary", err)
	}
	return res, nil
}
