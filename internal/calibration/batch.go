package calibration

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/StevenGuo30/BR2-vision-based-smoothing/internal/monitoring"
	"github.com/StevenGuo30/BR2-vision-based-smoothing/internal/report"
)

// CalibrateAll fits every camera in the store concurrently. Per-camera
// failures are recorded in summary (which may be nil) and do not stop the
// other cameras; the returned models are ordered by camera ID. Only context
// cancellation makes CalibrateAll itself fail.
func CalibrateAll(ctx context.Context, store *Store, opts Options, summary *report.Summary) ([]*CameraModel, error) {
	cameras := store.Cameras()
	models := make([]*CameraModel, len(cameras))

	g, ctx := errgroup.WithContext(ctx)
	if opts.Workers > 0 {
		g.SetLimit(opts.Workers)
	}
	for i, cam := range cameras {
		locked := store.Locked(cam)
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			m, err := Calibrate(cam, locked, opts)
			if err != nil {
				monitoring.Warnf("camera %d: calibration failed: %v", cam, err)
				summary.Record(report.StageCalibration, report.Where{CameraID: cam, TimeIndex: -1}, err)
				return nil
			}
			models[i] = m
			summary.Observe(report.StageCalibration, m.FitResidual)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]*CameraModel, 0, len(models))
	for _, m := range models {
		if m != nil {
			out = append(out, m)
		}
	}
	summary.Tally(report.StageCalibration, len(cameras), len(out))
	monitoring.Logf("calibrated %d of %d cameras", len(out), len(cameras))
	return out, nil
}
