package client

import (
	"fmt"
	"io"
	"time"
)

// Observer receives the documents a run produces, in order.
type Observer interface {
	Greeting(payload []byte)
	Rendered(index int, name string, doc string)
	Response(index int, name string, payload []byte)
}

// Metrics receives per-frame and per-exchange measurements.
type Metrics interface {
	FrameSent(payloadLen int)
	FrameReceived(payloadLen int)
	Exchange(duration time.Duration, err error)
}

const responseSeparator = "\n<!-- ================ -->\n\n"

// Printer writes documents to W in the layout registry tooling expects:
// a greeting banner, each response followed by a separator comment.
type Printer struct {
	W   io.Writer
	Err error
}

func NewPrinter(w io.Writer) *Printer {
	return &Printer{W: w}
}

func (p *Printer) Greeting(payload []byte) {
	p.printf("<!-- Greeting:-->\n%s\n", payload)
}

func (p *Printer) Rendered(_ int, _ string, doc string) {
	p.printf("%s\n", doc)
}

func (p *Printer) Response(_ int, _ string, payload []byte) {
	p.printf("%s\n%s", payload, responseSeparator)
}

// printf keeps the first write error in Err.
func (p *Printer) printf(format string, args ...any) {
	if p.Err != nil {
		return
	}
	if _, err := fmt.Fprintf(p.W, format, args...); err != nil {
		p.Err = err
	}
}

type nopObserver struct{}

func (nopObserver) Greeting([]byte)              {}
func (nopObserver) Rendered(int, string, string) {}
func (nopObserver) Response(int, string, []byte) {}

type nopMetrics struct{}

func (nopMetrics) FrameSent(int)                 {}
func (nopMetrics) FrameReceived(int)             {}
func (nopMetrics) Exchange(time.Duration, error) {}
