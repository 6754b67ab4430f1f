// Package vehicle maps detector classes onto vehicle categories and aggregates counts.
package vehicle

import "vehiclestats/internal/model"

// COCO class ids (zero-based, as emitted by YOLOv8) that describe vehicles.
const (
	cocoCar        = 2
	cocoMotorcycle = 3
	cocoBus        = 5
	cocoTruck      = 7
)

// TypeOf maps a raw detector class id to its vehicle type.
func TypeOf(classID int) (model.VehicleType, bool) {
	switch classID {
	case cocoCar:
		return model.Car, true
	case cocoMotorcycle:
		return model.Motorbike, true
	case cocoBus:
		return model.Bus, true
	case cocoTruck:
		return model.Truck, true
	}
	return "", false
}

// CategoryOf collapses a vehicle type into its reporting category.
func CategoryOf(t model.VehicleType) (model.Category, bool) {
	switch t {
	case model.Car:
		return model.Cars, true
	case model.Motorbike:
		return model.Motorbikes, true
	case model.Bus, model.Truck:
		return model.Trucks, true
	}
	return 0, false
}

// MapClass resolves a raw class id to a category. Unknown ids report false and
// are dropped by callers.
func MapClass(classID int) (model.Category, bool) {
	t, ok := TypeOf(classID)
	if !ok {
		return 0, false
	}
	return CategoryOf(t)
}

// Resolve keeps the detections that map to a category, in detector order.
func Resolve(detections model.Detections) []model.ResolvedDetection {
	resolved := make([]model.ResolvedDetection, 0, len(detections))
	for _, det := range detections {
		t, ok := TypeOf(det.ClassID)
		if !ok {
			continue
		}
		category, ok := CategoryOf(t)
		if !ok {
			continue
		}
		resolved = append(resolved, model.ResolvedDetection{
			DetectionBox: det,
			Type:         t,
			Category:     category,
		})
	}
	return resolved
}
