package monitoring

import (
	"github.com/cheggaaa/pb/v3"
)

const progressTemplate = `{{ string . "prefix" }} {{counters . "%s/%s" "%s/?"}} {{bar . }} {{percent . "%.01f%%" "?"}} {{etime . "%s elapsed"}} {{rtime . "%s remain" "%s total" "???"}}`

// Progress counts finished work units of a batch stage. Implementations are
// safe for concurrent Increment calls from worker goroutines.
type Progress interface {
	Increment()
	Finish()
}

type noopProgress struct{}

func (noopProgress) Increment() {}

func (noopProgress) Finish() {}

type barProgress struct{ bar *pb.ProgressBar }

func (p barProgress) Increment() {
	p.bar.Increment()
}

func (p barProgress) Finish() {
	p.bar.Finish()
}

// NewProgress starts a terminal progress bar on stderr, or returns a no-op
// when disabled (tests, non-interactive runs).
func NewProgress(prefix string, total int, enabled bool) Progress {
	if !enabled || total <= 0 {
		return noopProgress{}
	}
	bar := pb.ProgressBarTemplate(progressTemplate).New(total)
	bar.Set("prefix", prefix)
	bar.Start()
	return barProgress{bar: bar}
}
