package progress

import (
	"sync"

	"github.com/pterm/pterm"
)

// Bar tracks the fetch stage with a terminal progress bar.
type Bar struct {
	pb      *pterm.ProgressbarPrinter
	total   int
	stored  int
	skipped int
	mu      sync.Mutex
	enabled bool
}

// New creates a progress bar over total messages if logLevel is "info".
func New(total int, logLevel string) *Bar {
	enabled := logLevel == "info" && total > 0

	bar := &Bar{
		total:   total,
		enabled: enabled,
	}

	if enabled {
		pb, _ := pterm.DefaultProgressbar.
			WithTotal(total).
			WithTitle("Fetching messages").
			Start()
		bar.pb = pb
	}

	return bar
}

// Stored advances the bar for a message written to the store.
func (b *Bar) Stored(messageID string) {
	if !b.enabled || b.pb == nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.stored++
	b.pb.Increment()

	if messageID != "" {
		displayID := messageID
		if len(displayID) > 40 {
			displayID = displayID[:37] + "..."
		}
		b.pb.UpdateTitle("Fetching: " + displayID)
	}
}

// Skipped advances the bar for a message that could not be fetched or stored.
func (b *Bar) Skipped(err error) {
	if !b.enabled || b.pb == nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.skipped++
	b.pb.Increment()
	if err != nil {
		pterm.Error.Printf("Error: %v\n", err)
	}
}

// Stop finalizes the bar and prints the fetch summary.
func (b *Bar) Stop() {
	if !b.enabled || b.pb == nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.pb.Current < b.total {
		b.pb.Current = b.total
	}
	b.pb.Stop()

	pterm.Info.Printf("Stored: %d\n", b.stored)
	if b.skipped > 0 {
		pterm.Warning.Printf("Skipped: %d\n", b.skipped)
	}
}
