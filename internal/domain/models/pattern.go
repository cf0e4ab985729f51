package models

// Pattern is the coarse direction of an anomaly.
type Pattern string

const (
	PatternUnknown Pattern = ""
	PatternUp      Pattern = "UP"
	PatternDown    Pattern = "DOWN"
)

// Usage tells the merger whether persisted anomalies take part in a run.
type Usage string

const (
	UsageDetection  Usage = "DETECTION"
	UsageEvaluation Usage = "EVALUATION"
)

// BranchResult is the output of one detection branch. The merger replaces
// Anomalies in place with the reconciled set.
type BranchResult struct {
	Anomalies []*Anomaly `json:"anomalies"`
}
