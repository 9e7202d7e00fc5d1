package app

import (
	"fmt"
	"io"
	"time"

	"github.com/cloudfoundry/bytefmt"
	"github.com/gosuri/uilive"
)

// Progress prints a live transfer line that is rewritten in place.
type Progress struct {
	writer *uilive.Writer
	update ProgressUpdate
	now    func() time.Time
}

// NewProgress starts reporting a transfer of total bytes to w.
func NewProgress(w io.Writer, message string, total int64) *Progress {
	writer := uilive.New()
	writer.Out = w
	return &Progress{
		writer: writer,
		update: ProgressUpdate{Message: message, Total: total, StartedAt: time.Now()},
		now:    time.Now,
	}
}

// Add records n more bytes written and redraws the line.
func (p *Progress) Add(n int) {
	p.update.Completed += int64(n)
	p.update.ElapsedTime = p.now().Sub(p.update.StartedAt)
	p.draw()
}

// Update returns the current state.
func (p *Progress) Update() ProgressUpdate {
	return p.update
}

// Done draws the final line.
func (p *Progress) Done() {
	p.update.ElapsedTime = p.now().Sub(p.update.StartedAt)
	p.draw()
	fmt.Fprintf(p.writer.Bypass(), "%s: wrote %s in %s\n",
		p.update.Message, bytefmt.ByteSize(uint64(p.update.Completed)), p.update.ElapsedTime.Truncate(time.Millisecond))
}

func (p *Progress) draw() {
	u := &p.update
	line := fmt.Sprintf("%s: %s", u.Message, bytefmt.ByteSize(uint64(u.Completed)))
	if u.Total > 0 {
		line += fmt.Sprintf(" / %s (%d%%)", bytefmt.ByteSize(uint64(u.Total)), u.Percent())
	}
	if rate := u.Rate(); rate > 0 {
		line += fmt.Sprintf(" %s/s", bytefmt.ByteSize(uint64(rate)))
	}
	if eta := u.ETA(); eta > 0 {
		line += fmt.Sprintf(" ETA %s", eta.Truncate(time.Second))
	}
	fmt.Fprintln(p.writer, line)
	_ = p.writer.Flush()
}
