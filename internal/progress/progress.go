// Package progress wraps the progress bar used by long-running commands.
package progress

import (
	"fmt"
	"os"
	"time"

	"github.com/schollz/progressbar/v3"
)

const updateInterval = 100 * time.Millisecond

// Bar is a stderr spinner with a live description. All methods are no-ops
// when the bar is disabled, so callers never branch on visibility.
type Bar struct {
	bar *progressbar.ProgressBar
}

// New creates a progress bar writing to stderr. If enabled is false, every
// method is a no-op. Use total=-1 for spinner mode.
func New(enabled bool, total int64) *Bar {
	if !enabled {
		return &Bar{}
	}
	opts := []progressbar.Option{
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionThrottle(updateInterval),
		progressbar.OptionClearOnFinish(),
	}
	if total > 0 {
		opts = append(opts, progressbar.OptionSetWidth(40))
		return &Bar{bar: progressbar.NewOptions64(total, opts...)}
	}
	opts = append(opts,
		progressbar.OptionSpinnerType(14),
		progressbar.OptionSetElapsedTime(false),
	)
	return &Bar{bar: progressbar.NewOptions(-1, opts...)}
}

// Describe updates the live description from a stats Stringer.
func (b *Bar) Describe(s fmt.Stringer) {
	if b.bar != nil {
		b.bar.Describe(s.String())
	}
}

// Finish clears the bar and prints the final stats line.
func (b *Bar) Finish(s fmt.Stringer) {
	if b.bar != nil {
		_ = b.bar.Finish()
		fmt.Fprintln(os.Stderr, s.String())
	}
}

// ClearLine erases the current terminal line before out-of-band output, so
// error messages never collide with the spinner.
func ClearLine(w *os.File) {
	fmt.Fprint(w, "\r\033[K")
}
