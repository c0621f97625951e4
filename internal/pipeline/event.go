package pipeline

import "time"

// CaptionEvent is one unit of transcribed text delivered to the
// presentation layer.
type CaptionEvent struct {
	// Seq is the monotonic presentation sequence number. Consumers may rely
	// on events arriving in strictly increasing Seq order.
	Seq uint64 `json:"seq"`

	// Text is the transcribed speech. Never empty — windows that produce no
	// text produce no event.
	Text string `json:"text"`

	// Start and End delimit the capture-timestamp range of the source
	// window, relative to stream start.
	Start time.Duration `json:"start"`
	End   time.Duration `json:"end"`

	// Discontinuity is set when the source window spanned a gap in the
	// captured audio (frames evicted under load or lost to a device
	// reconnect).
	Discontinuity bool `json:"discontinuity,omitempty"`
}

// Sink receives ordered caption events. It is the boundary to the
// presentation layer; implementations must not block for long — a slow sink
// stalls the inference loop, not capture.
type Sink interface {
	Publish(event CaptionEvent)
}

// SinkFunc adapts a function to the [Sink] interface.
type SinkFunc func(CaptionEvent)

// Publish implements [Sink].
func (f SinkFunc) Publish(event CaptionEvent) { f(event) }
