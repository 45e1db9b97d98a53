package calibration

import (
	"math"
	"sort"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
)

// Point is one labelled calibration correspondence. Lab is nil until the
// point has been assigned a lab coordinate. Locked points are ground-truth
// anchors; unlocked points carry pixel estimates that Recompute may replace.
type Point struct {
	CameraID int
	FrameID  int
	Label    string
	Pixel    r2.Point
	Lab      *r3.Vector
	Locked   bool
}

// HasLab reports whether the point carries a lab coordinate.
func (p Point) HasLab() bool { return p.Lab != nil }

type pointKey struct {
	camera int
	frame  int
	label  string
}

func keyOf(p Point) pointKey { return pointKey{p.CameraID, p.FrameID, p.Label} }

// Store holds calibration points for every camera and frame. Labels are
// unique within a camera/frame. A Store is not safe for concurrent mutation;
// batch calibration only reads it.
type Store struct {
	points []Point
	index  map[pointKey]int
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{index: make(map[pointKey]int)}
}

// Add inserts a point. Duplicate labels within a camera/frame, empty labels,
// non-positive camera IDs and non-finite coordinates are rejected with
// ErrMalformedStore.
func (s *Store) Add(p Point) error {
	if p.CameraID <= 0 {
		return malformed("camera id must be positive, got %d", p.CameraID)
	}
	if p.Label == "" {
		return malformed("camera %d frame %d: empty label", p.CameraID, p.FrameID)
	}
	if !finite(p.Pixel.X) || !finite(p.Pixel.Y) {
		return malformed("camera %d frame %d label %q: non-finite pixel", p.CameraID, p.FrameID, p.Label)
	}
	if p.Lab != nil && (!finite(p.Lab.X) || !finite(p.Lab.Y) || !finite(p.Lab.Z)) {
		return malformed("camera %d frame %d label %q: non-finite lab coordinate", p.CameraID, p.FrameID, p.Label)
	}
	if p.Locked && !p.HasLab() {
		return malformed("camera %d frame %d label %q: locked point without lab coordinate", p.CameraID, p.FrameID, p.Label)
	}
	k := keyOf(p)
	if _, dup := s.index[k]; dup {
		return malformed("camera %d frame %d: duplicate label %q", p.CameraID, p.FrameID, p.Label)
	}
	if p.Lab != nil {
		lab := *p.Lab
		p.Lab = &lab
	}
	s.index[k] = len(s.points)
	s.points = append(s.points, p)
	return nil
}

// Get returns the point with the given key.
func (s *Store) Get(camera, frame int, label string) (Point, bool) {
	i, ok := s.index[pointKey{camera, frame, label}]
	if !ok {
		return Point{}, false
	}
	return clonePoint(s.points[i]), true
}

// Lock marks a point as a ground-truth anchor at the given lab coordinate.
func (s *Store) Lock(camera, frame int, label string, lab r3.Vector) error {
	i, ok := s.index[pointKey{camera, frame, label}]
	if !ok {
		return malformed("camera %d frame %d: unknown label %q", camera, frame, label)
	}
	s.points[i].Lab = &lab
	s.points[i].Locked = true
	return nil
}

// Unlock turns a point back into an estimate. Its lab coordinate is kept.
func (s *Store) Unlock(camera, frame int, label string) error {
	i, ok := s.index[pointKey{camera, frame, label}]
	if !ok {
		return malformed("camera %d frame %d: unknown label %q", camera, frame, label)
	}
	s.points[i].Locked = false
	return nil
}

// Update replaces the pixel coordinates of existing points, typically with
// the output of Recompute. Locked points are never moved.
func (s *Store) Update(points []Point) error {
	for _, p := range points {
		i, ok := s.index[keyOf(p)]
		if !ok {
			return malformed("camera %d frame %d: unknown label %q", p.CameraID, p.FrameID, p.Label)
		}
		if s.points[i].Locked {
			continue
		}
		s.points[i].Pixel = p.Pixel
	}
	return nil
}

// Points returns a copy of every point ordered by camera, frame and label.
func (s *Store) Points() []Point {
	return s.filter(func(Point) bool { return true })
}

// Cameras returns the sorted camera IDs present in the store.
func (s *Store) Cameras() []int {
	seen := make(map[int]bool)
	var ids []int
	for _, p := range s.points {
		if !seen[p.CameraID] {
			seen[p.CameraID] = true
			ids = append(ids, p.CameraID)
		}
	}
	sort.Ints(ids)
	return ids
}

// Locked returns the locked points of one camera across all its frames.
func (s *Store) Locked(camera int) []Point {
	return s.filter(func(p Point) bool { return p.CameraID == camera && p.Locked })
}

// Unlocked returns the unlocked points of one camera across all its frames.
func (s *Store) Unlocked(camera int) []Point {
	return s.filter(func(p Point) bool { return p.CameraID == camera && !p.Locked })
}

// Len returns the number of points.
func (s *Store) Len() int { return len(s.points) }

func (s *Store) filter(keep func(Point) bool) []Point {
	var out []Point
	for _, p := range s.points {
		if keep(p) {
			out = append(out, clonePoint(p))
		}
	}
	sortPoints(out)
	return out
}

func sortPoints(points []Point) {
	sort.Slice(points, func(i, j int) bool {
		a, b := points[i], points[j]
		if a.CameraID != b.CameraID {
			return a.CameraID < b.CameraID
		}
		if a.FrameID != b.FrameID {
			return a.FrameID < b.FrameID
		}
		return a.Label < b.Label
	})
}

func clonePoint(p Point) Point {
	if p.Lab != nil {
		lab := *p.Lab
		p.Lab = &lab
	}
	return p
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }
