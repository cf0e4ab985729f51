package models

import (
	"maps"
	"slices"
	"time"
)

const (
	// LabelOutdatedAfterReplay retires an anomaly that a replay no longer reproduces
	// or whose values changed materially.
	LabelOutdatedAfterReplay = "OUTDATED_AFTER_REPLAY"
	// LabelNewAfterReplay marks the replacement created when a replay changed values.
	LabelNewAfterReplay = "NEW_AFTER_REPLAY"
)

// AnomalyLabel annotates an anomaly. A label with Ignore set moves the anomaly
// to the ignored track.
type AnomalyLabel struct {
	Name     string            `json:"name"`
	Ignore   bool              `json:"ignore"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Equal compares labels structurally.
func (l AnomalyLabel) Equal(o AnomalyLabel) bool {
	return l.Name == o.Name && l.Ignore == o.Ignore && maps.Equal(l.Metadata, o.Metadata)
}

func (l AnomalyLabel) clone() AnomalyLabel {
	l.Metadata = maps.Clone(l.Metadata)
	return l
}

// OutdatedAfterReplay returns the label that retires an anomaly.
func OutdatedAfterReplay() AnomalyLabel {
	return AnomalyLabel{Name: LabelOutdatedAfterReplay, Ignore: true}
}

// NewAfterReplay returns the label carried by a replacement anomaly.
func NewAfterReplay() AnomalyLabel {
	return AnomalyLabel{Name: LabelNewAfterReplay}
}

// Anomaly is one incident or incident candidate. Times are epoch milliseconds
// and the window is half-open [StartTime, EndTime).
type Anomaly struct {
	// ID is zero until the anomaly is persisted.
	ID                int64
	AlertID           int64
	EnumerationItemID int64
	// ParentID links a persisted child to its parent row.
	ParentID int64

	StartTime int64
	EndTime   int64

	AvgCurrentVal  float64
	AvgBaselineVal float64
	UpperBound     float64
	LowerBound     float64
	Score          float64

	Properties map[string]string
	Severity   Severity
	Labels     []AnomalyLabel

	// Children is only populated on parents; children never hold children.
	Children []*Anomaly
	IsChild  bool

	Notified   bool
	CreateTime time.Time
}

// HasID reports whether the anomaly was loaded from the store.
func (a *Anomaly) HasID() bool { return a.ID != 0 }

// IsIgnored reports whether any label has Ignore set.
func (a *Anomaly) IsIgnored() bool {
	return slices.ContainsFunc(a.Labels, func(l AnomalyLabel) bool { return l.Ignore })
}

// IsUnitary reports whether the anomaly is a leaf: a child, or a parent without children.
func (a *Anomaly) IsUnitary() bool {
	return a.IsChild || len(a.Children) == 0
}

// HasLabel reports whether a label with the given name is present.
func (a *Anomaly) HasLabel(name string) bool {
	return slices.ContainsFunc(a.Labels, func(l AnomalyLabel) bool { return l.Name == name })
}

// AddLabels appends labels that are not structurally present yet.
func (a *Anomaly) AddLabels(labels ...AnomalyLabel) {
	for _, l := range labels {
		if !slices.ContainsFunc(a.Labels, l.Equal) {
			a.Labels = append(a.Labels, l.clone())
		}
	}
}

// AddChild appends c unless it is already a child of a.
func (a *Anomaly) AddChild(c *Anomaly) {
	if !slices.Contains(a.Children, c) {
		a.Children = append(a.Children, c)
	}
}

// SameWindow reports whether both anomalies cover exactly the same window.
func (a *Anomaly) SameWindow(o *Anomaly) bool {
	return a.StartTime == o.StartTime && a.EndTime == o.EndTime
}

// CopyValues copies the value fields of src onto a.
func (a *Anomaly) CopyValues(src *Anomaly) {
	a.AvgCurrentVal = src.AvgCurrentVal
	a.AvgBaselineVal = src.AvgBaselineVal
	a.UpperBound = src.UpperBound
	a.LowerBound = src.LowerBound
	a.Score = src.Score
}

// Snapshot returns an unpersisted copy of a without children, used to seed the
// first child of a new parent.
func (a *Anomaly) Snapshot() *Anomaly {
	s := &Anomaly{
		AlertID:           a.AlertID,
		EnumerationItemID: a.EnumerationItemID,
		StartTime:         a.StartTime,
		EndTime:           a.EndTime,
		Properties:        maps.Clone(a.Properties),
		Severity:          a.Severity,
		Notified:          a.Notified,
		CreateTime:        a.CreateTime,
	}
	s.CopyValues(a)
	s.AddLabels(a.Labels...)
	return s
}

// IsRetired reports whether the anomaly no longer takes part in merging: it was
// outdated by a replay, or it is a child left without a parent after absorption.
func (a *Anomaly) IsRetired() bool {
	return a.HasLabel(LabelOutdatedAfterReplay) || (a.IsChild && a.ParentID == 0 && a.HasID())
}

// Flatten lists every anomaly in the set followed by its children, each once.
func Flatten(anomalies []*Anomaly) []*Anomaly {
	seen := make(map[*Anomaly]struct{}, len(anomalies))
	out := make([]*Anomaly, 0, len(anomalies))
	add := func(a *Anomaly) {
		if _, ok := seen[a]; ok || a == nil {
			return
		}
		seen[a] = struct{}{}
		out = append(out, a)
	}
	for _, a := range anomalies {
		add(a)
		for _, c := range a.Children {
			add(c)
		}
	}
	return out
}

// TopLevel drops anomalies that are already listed as a child of another
// anomaly in the set, so each one appears once.
func TopLevel(anomalies []*Anomaly) []*Anomaly {
	nested := make(map[*Anomaly]struct{})
	for _, a := range anomalies {
		for _, c := range a.Children {
			nested[c] = struct{}{}
		}
	}
	out := make([]*Anomaly, 0, len(anomalies))
	for _, a := range anomalies {
		if _, ok := nested[a]; !ok && a != nil {
			out = append(out, a)
		}
	}
	return out
}
