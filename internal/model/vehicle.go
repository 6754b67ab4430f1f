package model

import "image"

// Category is one of the three buckets the service reports on.
type Category int

const (
	Motorbikes Category = iota
	Cars
	Trucks
)

// Categories returns every category in reporting order.
func Categories() []Category {
	return []Category{Motorbikes, Cars, Trucks}
}

func (c Category) String() string {
	switch c {
	case Motorbikes:
		return "motorbikes"
	case Cars:
		return "cars"
	case Trucks:
		return "trucks"
	}
	return "unknown"
}

// Title is the capitalised name drawn in the summary block.
func (c Category) Title() string {
	switch c {
	case Motorbikes:
		return "Motorbikes"
	case Cars:
		return "Cars"
	case Trucks:
		return "Trucks"
	}
	return "Unknown"
}

// VehicleType is the intermediate label between a detector class and a Category.
type VehicleType string

const (
	Car       VehicleType = "car"
	Motorbike VehicleType = "motorbike"
	Bus       VehicleType = "bus"
	Truck     VehicleType = "truck"
)

// DetectionBox is one raw detection returned by the detector for one frame.
type DetectionBox struct {
	ClassID    int             `json:"class_id"`
	Box        image.Rectangle `json:"box"` // Min = (x1,y1), Max = (x2,y2)
	Confidence float64         `json:"confidence"`
}

// Detections is the detector's answer for a frame. An empty set is a normal outcome.
type Detections []DetectionBox

// Empty reports whether the detector found nothing.
func (d Detections) Empty() bool {
	return len(d) == 0
}

// AboveFloor keeps detections whose confidence is at least floor.
func (d Detections) AboveFloor(floor float64) Detections {
	kept := make(Detections, 0, len(d))
	for _, det := range d {
		if det.Confidence >= floor {
			kept = append(kept, det)
		}
	}
	return kept
}

// ResolvedDetection is a detection whose class mapped to a vehicle category.
type ResolvedDetection struct {
	DetectionBox
	Type     VehicleType `json:"type"`
	Category Category    `json:"category"`
}

// Counts holds a non-negative count per category. It is used both for a single
// frame and for the aggregate of a run.
type Counts struct {
	Motorbikes int `json:"motorbikes" validate:"gte=0"`
	Cars       int `json:"cars" validate:"gte=0"`
	Trucks     int `json:"trucks" validate:"gte=0"`
}

// Get returns the count for c.
func (c Counts) Get(category Category) int {
	switch category {
	case Motorbikes:
		return c.Motorbikes
	case Cars:
		return c.Cars
	case Trucks:
		return c.Trucks
	}
	return 0
}

// Set returns a copy of c with the count for category replaced.
func (c Counts) Set(category Category, n int) Counts {
	switch category {
	case Motorbikes:
		c.Motorbikes = n
	case Cars:
		c.Cars = n
	case Trucks:
		c.Trucks = n
	}
	return c
}

// Total is the sum over all categories.
func (c Counts) Total() int {
	return c.Motorbikes + c.Cars + c.Trucks
}

// Map renders the counts keyed by category name.
func (c Counts) Map() map[string]int {
	m := make(map[string]int, 3)
	for _, category := range Categories() {
		m[category.String()] = c.Get(category)
	}
	return m
}
