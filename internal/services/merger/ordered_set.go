package merger

import "MergeWatch/internal/domain/models"

// orderedSet keeps anomalies in insertion order without duplicates (by pointer).
type orderedSet struct {
	seen  map[*models.Anomaly]struct{}
	order []*models.Anomaly
}

func newOrderedSet() *orderedSet {
	return &orderedSet{seen: make(map[*models.Anomaly]struct{})}
}

func (s *orderedSet) add(a *models.Anomaly) {
	if a == nil {
		return
	}
	if _, ok := s.seen[a]; ok {
		return
	}
	s.seen[a] = struct{}{}
	s.order = append(s.order, a)
}

func (s *orderedSet) items() []*models.Anomaly { return s.order }
