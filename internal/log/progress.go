package log

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

var spinnerFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

// ProgressSpinner animates a spinner on stderr while a long operation
// runs, such as enumerating paths through a heavily branched function.
type ProgressSpinner struct {
	mu      sync.Mutex
	message string
	frame   int
	active  bool
	out     io.Writer
	colors  bool
	done    chan struct{}
}

// NewProgressSpinner creates a spinner with the given message.
func NewProgressSpinner(message string) *ProgressSpinner {
	return &ProgressSpinner{
		message: message,
		out:     os.Stderr,
		colors:  colorsEnabled(os.Stderr),
		done:    make(chan struct{}),
	}
}

// Start begins the animation in a background goroutine.
func (p *ProgressSpinner) Start() {
	p.mu.Lock()
	p.active = true
	p.mu.Unlock()

	go p.animate()
}

// Stop halts the animation and clears the spinner line.
func (p *ProgressSpinner) Stop() {
	p.mu.Lock()
	if !p.active {
		p.mu.Unlock()
		return
	}
	p.active = false
	p.mu.Unlock()

	close(p.done)
	fmt.Fprint(p.out, "\r\033[K")
}

// Message replaces the spinner message mid-run.
func (p *ProgressSpinner) Message(msg string) {
	p.mu.Lock()
	p.message = msg
	p.mu.Unlock()
}

func (p *ProgressSpinner) animate() {
	ticker := time.NewTicker(80 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.mu.Lock()
			if !p.active {
				p.mu.Unlock()
				return
			}
			p.draw()
			p.mu.Unlock()
		case <-p.done:
			return
		}
	}
}

func (p *ProgressSpinner) draw() {
	frame := spinnerFrames[p.frame%len(spinnerFrames)]
	p.frame++

	if p.colors {
		fmt.Fprintf(p.out, "\r\033[36m%s\033[0m %s", frame, p.message)
	} else {
		fmt.Fprintf(p.out, "\r%s %s", frame, p.message)
	}
}
