package app

import (
	"seq_miner/internal/distance"
	"seq_miner/internal/models"
)

// filterActive reports whether the window applies. A reference without
// max_distance, or min_distance on its own, means no filtering at all.
func filterActive(reference *string, w models.FilterWindow) bool {
	return reference != nil && *reference != "" && w.MaxDistance != nil
}

func inWindow(d int, w models.FilterWindow) bool {
	if w.MaxDistance == nil || d > *w.MaxDistance {
		return false
	}
	return w.MinDistance == nil || d >= *w.MinDistance
}

// evaluate decides whether residues are kept. dist is nil when filtering
// is off.
func evaluate(reference *string, w models.FilterWindow, residues string) (keep bool, dist *int) {
	if !filterActive(reference, w) {
		return true, nil
	}
	d := distance.Levenshtein(*reference, residues)
	return inWindow(d, w), &d
}
