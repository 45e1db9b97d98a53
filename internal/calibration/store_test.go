package calibration

import (
	"errors"
	"math"
	"testing"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_AddValidation(t *testing.T) {
	lab := r3.Vector{X: 1}
	tests := []struct {
		name string
		p    Point
	}{
		{"zero camera", Point{CameraID: 0, Label: "a"}},
		{"empty label", Point{CameraID: 1}},
		{"nan pixel", Point{CameraID: 1, Label: "a", Pixel: r2.Point{X: math.NaN()}}},
		{"inf lab", Point{CameraID: 1, Label: "a", Lab: &r3.Vector{Z: math.Inf(1)}}},
		{"locked without lab", Point{CameraID: 1, Label: "a", Locked: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewStore().Add(tt.p)
			assert.True(t, errors.Is(err, ErrMalformedStore), "got %v", err)
		})
	}

	s := NewStore()
	require.NoError(t, s.Add(Point{CameraID: 1, FrameID: 0, Label: "a", Lab: &lab}))
	// Same label in another frame or camera is fine.
	require.NoError(t, s.Add(Point{CameraID: 1, FrameID: 1, Label: "a"}))
	require.NoError(t, s.Add(Point{CameraID: 2, FrameID: 0, Label: "a"}))
	err := s.Add(Point{CameraID: 1, FrameID: 0, Label: "a"})
	assert.True(t, errors.Is(err, ErrMalformedStore))
	assert.Equal(t, 3, s.Len())

	// The store keeps its own copy of the lab coordinate.
	lab.X = 99
	got, ok := s.Get(1, 0, "a")
	require.True(t, ok)
	assert.Equal(t, 1.0, got.Lab.X)
}

func TestStore_LockUnlockUpdate(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.Add(Point{CameraID: 2, FrameID: 0, Label: "b", Pixel: r2.Point{X: 1, Y: 1}}))
	require.NoError(t, s.Add(Point{CameraID: 1, FrameID: 3, Label: "a", Pixel: r2.Point{X: 2, Y: 2}}))

	require.NoError(t, s.Lock(1, 3, "a", r3.Vector{X: 10, Y: 20, Z: 30}))
	assert.Error(t, s.Lock(1, 3, "missing", r3.Vector{}))
	assert.Len(t, s.Locked(1), 1)
	assert.Len(t, s.Unlocked(2), 1)
	assert.Equal(t, []int{1, 2}, s.Cameras())

	// Locked points are never moved by Update.
	require.NoError(t, s.Update([]Point{
		{CameraID: 1, FrameID: 3, Label: "a", Pixel: r2.Point{X: 50, Y: 50}},
		{CameraID: 2, FrameID: 0, Label: "b", Pixel: r2.Point{X: 60, Y: 60}},
	}))
	a, _ := s.Get(1, 3, "a")
	b, _ := s.Get(2, 0, "b")
	assert.Equal(t, r2.Point{X: 2, Y: 2}, a.Pixel)
	assert.Equal(t, r2.Point{X: 60, Y: 60}, b.Pixel)
	assert.Error(t, s.Update([]Point{{CameraID: 9, Label: "x"}}))

	require.NoError(t, s.Unlock(1, 3, "a"))
	a, _ = s.Get(1, 3, "a")
	assert.False(t, a.Locked)
	require.NotNil(t, a.Lab)
	assert.Error(t, s.Unlock(1, 3, "missing"))
}

func TestStore_PointsOrdered(t *testing.T) {
	s := NewStore()
	for _, p := range []Point{
		{CameraID: 2, FrameID: 0, Label: "a"},
		{CameraID: 1, FrameID: 1, Label: "b"},
		{CameraID: 1, FrameID: 1, Label: "a"},
		{CameraID: 1, FrameID: 0, Label: "z"},
	} {
		require.NoError(t, s.Add(p))
	}

	var got []string
	for _, p := range s.Points() {
		got = append(got, p.Label)
	}
	if diff := cmp.Diff([]string{"z", "a", "b", "a"}, got); diff != "" {
		t.Errorf("Points() order mismatch (-want +got):\n%s", diff)
	}
}
