package output

import (
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/progress"
)

// Progress draws a live bar for one bulk operation.
// Update has the engine.ProgressFunc signature.
type Progress struct {
	writer  progress.Writer
	tracker *progress.Tracker
	total   int
}

// NewProgress starts rendering a bar for total items on w.
func NewProgress(w io.Writer, message string, total int) *Progress {
	pw := progress.NewWriter()
	pw.SetOutputWriter(w)
	pw.SetAutoStop(true)
	pw.SetTrackerLength(30)
	pw.SetUpdateFrequency(100 * time.Millisecond)
	pw.SetStyle(progress.StyleDefault)

	tracker := &progress.Tracker{
		Message: message,
		Total:   int64(total),
		Units:   progress.UnitsDefault,
	}
	pw.AppendTracker(tracker)
	go pw.Render()

	return &Progress{writer: pw, tracker: tracker, total: total}
}

// Update records completed of total items.
func (p *Progress) Update(completed, total int) {
	if p == nil {
		return
	}
	if total != p.total {
		p.total = total
		p.tracker.UpdateTotal(int64(total))
	}
	p.tracker.SetValue(int64(completed))
}

// Done marks the bar finished and waits for the final frame.
func (p *Progress) Done() {
	if p == nil {
		return
	}
	p.tracker.MarkAsDone()
	p.writer.Stop()

	deadline := time.Now().Add(time.Second)
	for p.writer.IsRenderInProgress() && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
}

// Completed reports the last value passed to Update.
func (p *Progress) Completed() int {
	if p == nil {
		return 0
	}
	return int(p.tracker.Value())
}
