package engine

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync/atomic"
	"time"

	"github.com/datallboy/mediafetch/internal/domain"
)

// CLIProgress renders a single-line progress bar for one acquisition.
type CLIProgress struct {
	out     io.Writer
	started time.Time
	current atomic.Uint64
	total   atomic.Uint64
}

func NewCLIProgress(out io.Writer) *CLIProgress {
	return &CLIProgress{out: out, started: time.Now()}
}

// Listener wraps next so that progress events also feed the bar.
func (p *CLIProgress) Listener(next domain.Listener) domain.Listener {
	if next == nil {
		next = domain.ListenerFuncs{}
	}
	return domain.ListenerFuncs{
		OnProgress: func(offset, total uint64) {
			p.current.Store(offset)
			p.total.Store(total)
			next.Progress(offset, total)
		},
		OnComplete: next.Completed,
		OnFailure:  next.Failed,
	}
}

// Run redraws the bar every second until ctx is done.
func (p *CLIProgress) Run(ctx context.Context) {
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	var lastBytes uint64

	for {
		select {
		case <-ticker.C:
			current := p.current.Load()
			delta := current - lastBytes
			lastBytes = current

			// Calculate instantaneous speed
			speedMbps := float64(delta) * 8 / (1024 * 1024)

			p.render(speedMbps, false)
		case <-ctx.Done():
			return
		}
	}
}

// Finish draws the final summary line.
func (p *CLIProgress) Finish() {
	p.render(0, true)
	fmt.Fprintln(p.out)
}

func (p *CLIProgress) render(speedMbps float64, final bool) {
	current := p.current.Load()
	total := p.total.Load()
	if total == 0 {
		return
	}

	elapsed := time.Since(p.started)
	percent := float64(current) / float64(total) * 100

	displaySpeed := speedMbps
	etaStr := "calc..."

	if final {
		percent = 100.0

		// Guard against division by zero or sub-millisecond durations
		seconds := elapsed.Seconds()
		if seconds < 0.1 {
			seconds = 0.1
		}

		avgBytesPerSec := float64(current) / seconds
		displaySpeed = (avgBytesPerSec * 8) / (1024 * 1024)
	} else {
		avgBytesPerSec := float64(current) / elapsed.Seconds()
		if avgBytesPerSec > 0 && current <= total {
			remainingBytes := total - current
			etaSeconds := int(float64(remainingBytes) / avgBytesPerSec)
			etaStr = (time.Duration(etaSeconds) * time.Second).String()
		}
	}

	fmt.Fprintf(p.out, "\r%s", progressLine(percent, displaySpeed, etaStr, current, total, final, elapsed))
}

// progressLine formats: [Bar] 50% | Speed: 100 Mbps | ETA: 2m30s | 5/10 MB
func progressLine(percent, speedMbps float64, eta string, current, total uint64, final bool, elapsed time.Duration) string {
	const barWidth = 20
	if percent > 100 {
		percent = 100
	}
	completedWidth := int(percent / 100 * barWidth)
	bar := strings.Repeat("=", completedWidth)
	if completedWidth < barWidth {
		bar += ">" + strings.Repeat(" ", barWidth-completedWidth-1)
	}

	speedLabel := "Speed"
	timeLabel := "ETA"
	if final {
		speedLabel = "Avg"
		timeLabel = "Time"
		eta = elapsed.Truncate(time.Second).String()
	}

	return fmt.Sprintf("[%s] %5.1f%% | %s: %6.2f Mbps | %s: %-7s | %d/%d MB      ",
		bar, percent, speedLabel, speedMbps, timeLabel, eta, current/1024/1024, total/1024/1024)
}
