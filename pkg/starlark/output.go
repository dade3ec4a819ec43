package starlark

import (
	"errors"
	"strings"

	"go.starlark.net/starlark"
)

const outputKey = "viewc.output"

var errCaptureUnderflow = errors.New("_capture_end without matching _capture_start")

// output is the stack of capture buffers owned by one execution. Writes go
// to the innermost buffer.
type output struct {
	bufs []*strings.Builder
}

func outputOf(thread *starlark.Thread) (*output, error) {
	out, ok := thread.Local(outputKey).(*output)
	if !ok {
		return nil, errors.New("no output capture on this thread")
	}
	return out, nil
}

func (o *output) depth() int { return len(o.bufs) }

func (o *output) push() { o.bufs = append(o.bufs, &strings.Builder{}) }

func (o *output) pop() string {
	n := len(o.bufs)
	s := o.bufs[n-1].String()
	o.bufs = o.bufs[:n-1]
	return s
}

func (o *output) write(s string) { o.bufs[len(o.bufs)-1].WriteString(s) }

// unwind discards every buffer opened above depth.
func (o *output) unwind(depth int) {
	if depth < len(o.bufs) {
		o.bufs = o.bufs[:depth]
	}
}
