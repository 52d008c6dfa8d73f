package types

import (
	"encoding/json"
	"fmt"
)

// Label is the binary outcome of the detector.
type Label int

const (
	LabelNormal Label = iota
	LabelAnomalous
)

func (l Label) String() string {
	if l == LabelAnomalous {
		return "anomalous"
	}
	return "normal"
}

// Contribution is one feature pushing an employee toward the anomalous side.
// It serializes as a two element JSON array: ["display name", magnitude].
type Contribution struct {
	Feature   string
	Magnitude float64
}

// MarshalJSON implements json.Marshaler.
func (c Contribution) MarshalJSON() ([]byte, error) {
	return json.Marshal([]interface{}{c.Feature, c.Magnitude})
}

// UnmarshalJSON implements json.Unmarshaler.
func (c *Contribution) UnmarshalJSON(data []byte) error {
	var pair []json.RawMessage
	if err := json.Unmarshal(data, &pair); err != nil {
		return err
	}
	if len(pair) != 2 {
		return fmt.Errorf("contribution: expected [name, magnitude], got %d elements", len(pair))
	}
	if err := json.Unmarshal(pair[0], &c.Feature); err != nil {
		return fmt.Errorf("contribution: feature name: %w", err)
	}
	if err := json.Unmarshal(pair[1], &c.Magnitude); err != nil {
		return fmt.Errorf("contribution: magnitude: %w", err)
	}
	return nil
}

// AnomalyRecord is one row of the distress summary.
type AnomalyRecord struct {
	EmployeeID string
	// Score is the decision function value: higher is more normal, negative is anomalous.
	Score         float64
	Label         Label
	Problems      []Contribution
	OtherProblems []Contribution

	// Display-only values carried from the master table.
	AverageWorkHours  OptionalFloat
	RewardFactor      OptionalFloat
	PerformanceRating OptionalFloat
	VibeFactor        OptionalFloat
}
