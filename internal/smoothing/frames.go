package smoothing

import (
	"sort"

	"github.com/StevenGuo30/BR2-vision-based-smoothing/internal/triangulation"
)

// FramesFromPositions groups triangulated positions by time index, in
// ascending order. Time is the index divided by fps, or the index itself
// when fps is not positive.
func FramesFromPositions(positions []triangulation.Position3D, fps float64) []Frame {
	byTime := make(map[int][]Sample)
	for _, p := range positions {
		byTime[p.TimeIndex] = append(byTime[p.TimeIndex], Sample{
			Label:         p.Label,
			Position:      p.Coordinate,
			LowConfidence: p.LowConfidence,
		})
	}
	times := make([]int, 0, len(byTime))
	for t := range byTime {
		times = append(times, t)
	}
	sort.Ints(times)

	frames := make([]Frame, len(times))
	for i, t := range times {
		tm := float64(t)
		if fps > 0 {
			tm /= fps
		}
		frames[i] = Frame{TimeIndex: t, Time: tm, Samples: byTime[t]}
	}
	return frames
}
