package calibration

import (
	"fmt"
	"sort"
	"strings"

	"github.com/golang/geo/r3"
	"go.uber.org/multierr"
)

// Mode selects how Recompute estimates unlocked points.
type Mode string

const (
	// ModeAuto uses the plane homography of a frame when that frame's locked
	// points are coplanar and numerous enough, and the camera's spatial DLT
	// otherwise.
	ModeAuto Mode = "auto"
	// ModeSpatial projects through the camera's spatial DLT (all frames).
	ModeSpatial Mode = "spatial"
	// ModePlanar maps through the homography of each frame's locked points.
	ModePlanar Mode = "planar"
)

// ParseMode converts a configuration string into a Mode.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModeAuto, ModeSpatial, ModePlanar:
		return m, nil
	case "":
		return ModeAuto, nil
	default:
		return "", fmt.Errorf("unknown calibration mode %q", s)
	}
}

type frameKey struct {
	camera int
	frame  int
}

// Recompute re-estimates the pixel coordinates of unlocked points from the
// locked ones. It never mutates its inputs: the result has one entry per
// unlocked point, in input order. Points without a lab coordinate, or whose
// camera/frame cannot be fitted, are returned unchanged; the fit failures are
// combined into the returned error.
func Recompute(unlocked, locked []Point, mode Mode) ([]Point, error) {
	switch mode {
	case ModeAuto, ModeSpatial, ModePlanar:
	default:
		return nil, fmt.Errorf("unknown calibration mode %q", mode)
	}

	byCamera := make(map[int][]Point)
	byFrame := make(map[frameKey][]Point)
	for _, p := range locked {
		if !p.Locked || !p.HasLab() {
			continue
		}
		byCamera[p.CameraID] = append(byCamera[p.CameraID], p)
		k := frameKey{p.CameraID, p.FrameID}
		byFrame[k] = append(byFrame[k], p)
	}

	spatial := make(map[int]*CameraModel)
	planar := make(map[frameKey]*Homography)
	failed := make(map[string]error)

	spatialFor := func(camera int) *CameraModel {
		if m, ok := spatial[camera]; ok {
			return m
		}
		key := fmt.Sprintf("camera %d spatial", camera)
		if _, ok := failed[key]; ok {
			return nil
		}
		m, err := Calibrate(camera, byCamera[camera], Options{})
		if err != nil {
			failed[key] = err
			return nil
		}
		spatial[camera] = m
		return m
	}
	planarFor := func(k frameKey) *Homography {
		if h, ok := planar[k]; ok {
			return h
		}
		key := fmt.Sprintf("camera %d frame %d planar", k.camera, k.frame)
		if _, ok := failed[key]; ok {
			return nil
		}
		h, err := FitHomography(k.camera, byFrame[k])
		if err != nil {
			failed[key] = fmt.Errorf("frame %d: %w", k.frame, err)
			return nil
		}
		planar[k] = h
		return h
	}
	frameIsPlanar := func(k frameKey) bool {
		pts := byFrame[k]
		if len(pts) < MinPlanarPoints {
			return false
		}
		labs := make([]r3.Vector, len(pts))
		for i, p := range pts {
			labs[i] = *p.Lab
		}
		_, _, ok := DetectPlane(labs)
		return ok
	}

	out := make([]Point, len(unlocked))
	for i, p := range unlocked {
		out[i] = clonePoint(p)
		if p.Locked || !p.HasLab() {
			continue
		}
		k := frameKey{p.CameraID, p.FrameID}

		usePlanar := mode == ModePlanar || (mode == ModeAuto && frameIsPlanar(k))
		if usePlanar {
			if h := planarFor(k); h != nil {
				if px, err := h.Apply(*p.Lab); err == nil {
					out[i].Pixel = px
				}
			}
			continue
		}
		if m := spatialFor(p.CameraID); m != nil {
			if px, err := m.Project(*p.Lab); err == nil {
				out[i].Pixel = px
			}
		}
	}

	keys := make([]string, 0, len(failed))
	for k := range failed {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var err error
	for _, k := range keys {
		err = multierr.Append(err, failed[k])
	}
	return out, err
}
