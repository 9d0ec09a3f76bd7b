// Package progress displays the progress of long-running reads on the terminal, and handles
// interruptions (Ctrl+C) gracefully.
package progress

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/schollz/progressbar/v3"
	"k8s.io/klog/v2"
)

// Bar displays the progress of reading an input, in bytes.
type Bar struct {
	w           io.Writer
	description string
	bar         *progressbar.ProgressBar
}

// New creates a Bar that prints to w (usually os.Stderr). It is only displayed once an
// input is wrapped with Wrap.
func New(w io.Writer, description string) *Bar {
	return &Bar{w: w, description: description}
}

// Wrap returns a reader that updates the Bar as r is read. size is the total number of bytes
// to read, or -1 if unknown, in which case a spinner is shown.
//
// It matches the signature of converter.Options.WrapInput.
func (b *Bar) Wrap(r io.Reader, size int64) io.Reader {
	b.bar = progressbar.NewOptions64(size,
		progressbar.OptionSetDescription(b.description),
		progressbar.OptionSetWriter(b.w),
		progressbar.OptionShowBytes(true),
		progressbar.OptionSetWidth(10),
		progressbar.OptionThrottle(65*time.Millisecond),
		progressbar.OptionShowCount(),
		progressbar.OptionOnCompletion(func() {
			_, _ = fmt.Fprint(b.w, "\n")
		}),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionFullWidth(),
		progressbar.OptionSetRenderBlankState(true),
	)
	pr := progressbar.NewReader(r, b.bar)
	return &pr
}

// Finish completes the bar, if one was started.
func (b *Bar) Finish() {
	if b.bar == nil {
		return
	}
	if err := b.bar.Finish(); err != nil {
		klog.V(1).Infof("Failed to finish progress bar: %v", err)
	}
	b.bar = nil
}

// SafeInterrupt will capture SigInt (Ctrl+C) and SigTerm and call the provided onInterrupt.
// If the program haven't exited after gracePeriod, it will call Reset to reset the terminal
// and exit.
func SafeInterrupt(onInterrupt func(), gracePeriod time.Duration) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		s := <-sigChan
		fmt.Println()
		klog.Errorf("Got interrupted (signal %q), shutting down... (%s)", s, gracePeriod)
		if onInterrupt != nil {
			go onInterrupt()
		}

		// Wait for gracePeriod before exiting.
		time.Sleep(gracePeriod)
		Reset()
		klog.Fatalf("Graceful shutting down %s period expired, exiting.", gracePeriod)
	}()
}

// Reset terminal: make cursor visible, restore default terminal colors.
func Reset() {
	fmt.Print("\033[?25h\033[39;49;0m\n") // Restore cursor and colors.
}
