package vehicle

import "vehiclestats/internal/model"

// Tally counts the detections of one frame per category. Detections whose class
// does not map to a category are not counted.
func Tally(detections model.Detections) model.Counts {
	return TallyResolved(Resolve(detections))
}

// TallyResolved counts already-resolved detections.
func TallyResolved(resolved []model.ResolvedDetection) model.Counts {
	var counts model.Counts
	for _, det := range resolved {
		counts = counts.Set(det.Category, counts.Get(det.Category)+1)
	}
	return counts
}

// Fold combines a running aggregate with one frame's counts by keeping the
// per-category maximum. The result is the peak number of vehicles seen at once,
// not the number of distinct vehicles.
func Fold(previous, frame model.Counts) model.Counts {
	var next model.Counts
	for _, category := range model.Categories() {
		next = next.Set(category, max(previous.Get(category), frame.Get(category)))
	}
	return next
}

// BestMatch returns the highest-confidence vehicle detection of a frame. It is a
// separate single-answer mode and never feeds the aggregate.
func BestMatch(detections model.Detections) (model.ResolvedDetection, bool) {
	var best model.ResolvedDetection
	found := false
	for _, det := range Resolve(detections) {
		if !found || det.Confidence > best.Confidence {
			best = det
			found = true
		}
	}
	return best, found
}
