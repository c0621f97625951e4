package pipeline

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/livecap-io/livecap/pkg/audio"
)

// toneFrame builds a mono 16 kHz frame of the given duration filled with a
// constant amplitude, so its RMS equals the amplitude exactly.
func toneFrame(seq uint64, ts, d time.Duration, amplitude int16) audio.Frame {
	samples := int(d * 16000 / time.Second)
	data := make([]byte, samples*2)
	for i := range samples {
		binary.LittleEndian.PutUint16(data[i*2:], uint16(amplitude))
	}
	return audio.Frame{
		Data:       data,
		SampleRate: 16000,
		Channels:   1,
		Seq:        seq,
		Timestamp:  ts,
	}
}

// contiguous builds n contiguous 500 ms tone frames starting at seq 1.
func contiguous(n int, amplitude int16) []audio.Frame {
	frames := make([]audio.Frame, n)
	for i := range n {
		frames[i] = toneFrame(uint64(i+1), time.Duration(i)*500*time.Millisecond,
			500*time.Millisecond, amplitude)
	}
	return frames
}

// fakeClock returns a deterministic clock function plus an advance helper.
func fakeClock() (now func() time.Time, advance func(time.Duration)) {
	current := time.Unix(1000, 0)
	return func() time.Time { return current },
		func(d time.Duration) { current = current.Add(d) }
}

func TestAssembler_CutsAtTargetDuration(t *testing.T) {
	a := NewAssembler(AssemblerConfig{Target: 3 * time.Second, MaxWait: time.Hour})

	for i, frame := range contiguous(6, 1000) {
		if _, ok := a.TryTakeWindow(); ok {
			t.Fatalf("window ready after only %d frames", i)
		}
		a.Feed(frame)
	}

	w, ok := a.TryTakeWindow()
	if !ok {
		t.Fatal("no window after 3s of audio with 3s target")
	}
	if got := w.Duration(); got != 3*time.Second {
		t.Errorf("window duration = %v; want 3s", got)
	}
	if w.FirstSeq != 1 || w.LastSeq != 6 {
		t.Errorf("window seq range = [%d, %d]; want [1, 6]", w.FirstSeq, w.LastSeq)
	}
	if w.Start != 0 || w.End != 3*time.Second {
		t.Errorf("window timestamp range = [%v, %v]; want [0, 3s]", w.Start, w.End)
	}
	if w.Discontinuity {
		t.Error("contiguous window flagged as discontinuous")
	}

	// Pending state must be fully reset.
	if _, ok := a.TryTakeWindow(); ok {
		t.Error("second window ready immediately after take")
	}
}

func TestAssembler_MaxWaitBoundsSparseAudio(t *testing.T) {
	now, advance := fakeClock()
	a := NewAssembler(AssemblerConfig{Target: 3 * time.Second, MaxWait: 2 * time.Second})
	a.now = now

	a.Feed(toneFrame(1, 0, 500*time.Millisecond, 1000))
	if _, ok := a.TryTakeWindow(); ok {
		t.Fatal("window ready before max wait elapsed")
	}

	advance(2 * time.Second)
	w, ok := a.TryTakeWindow()
	if !ok {
		t.Fatal("no window after max wait elapsed")
	}
	if got := w.Duration(); got != 500*time.Millisecond {
		t.Errorf("window duration = %v; want 500ms", got)
	}
}

func TestAssembler_WindowDurationNeverExceedsTargetPlusFrame(t *testing.T) {
	a := NewAssembler(AssemblerConfig{Target: 3 * time.Second, MaxWait: time.Hour})

	var maxDur time.Duration
	for _, frame := range contiguous(40, 1000) {
		a.Feed(frame)
		if w, ok := a.TryTakeWindow(); ok {
			if w.Duration() > maxDur {
				maxDur = w.Duration()
			}
		}
	}
	ceiling := 3*time.Second + 500*time.Millisecond
	if maxDur > ceiling {
		t.Errorf("max window duration %v exceeds ceiling %v", maxDur, ceiling)
	}
	if maxDur < 3*time.Second {
		t.Errorf("max window duration %v below target", maxDur)
	}
}

func TestAssembler_SilenceSplit(t *testing.T) {
	a := NewAssembler(AssemblerConfig{
		Target:       10 * time.Second,
		MaxWait:      time.Hour,
		SilenceSplit: true,
		SilenceRMS:   300,
		MinSilence:   500 * time.Millisecond,
	})

	// 1s of speech followed by 500ms of silence → early cut.
	a.Feed(toneFrame(1, 0, 500*time.Millisecond, 1000))
	a.Feed(toneFrame(2, 500*time.Millisecond, 500*time.Millisecond, 1000))
	if _, ok := a.TryTakeWindow(); ok {
		t.Fatal("cut during active speech")
	}
	a.Feed(toneFrame(3, time.Second, 500*time.Millisecond, 0))

	w, ok := a.TryTakeWindow()
	if !ok {
		t.Fatal("no cut at trailing-silence boundary")
	}
	if got := w.Duration(); got != 1500*time.Millisecond {
		t.Errorf("window duration = %v; want 1.5s", got)
	}
}

func TestAssembler_SilenceAloneNeverCuts(t *testing.T) {
	a := NewAssembler(AssemblerConfig{
		Target:       10 * time.Second,
		MaxWait:      time.Hour,
		SilenceSplit: true,
	})

	// Pure silence with no preceding speech must wait for target/max-wait.
	for i := range 6 {
		a.Feed(toneFrame(uint64(i+1), time.Duration(i)*500*time.Millisecond,
			500*time.Millisecond, 0))
	}
	if _, ok := a.TryTakeWindow(); ok {
		t.Error("silence-only audio cut before target")
	}
}

func TestAssembler_SeqGapMarksDiscontinuity(t *testing.T) {
	a := NewAssembler(AssemblerConfig{Target: 3 * time.Second, MaxWait: time.Hour})

	a.Feed(toneFrame(1, 0, 500*time.Millisecond, 1000))
	a.Feed(toneFrame(2, 500*time.Millisecond, 500*time.Millisecond, 1000))
	// Frames 3-4 evicted by the queue: seq jumps 2 → 5, timestamps jump too.
	a.Feed(toneFrame(5, 2*time.Second, 500*time.Millisecond, 1000))
	for i := range 3 {
		a.Feed(toneFrame(uint64(6+i), time.Duration(5+i)*500*time.Millisecond,
			500*time.Millisecond, 1000))
	}

	w, ok := a.TryTakeWindow()
	if !ok {
		t.Fatal("no window produced")
	}
	if !w.Discontinuity {
		t.Error("window spanning evicted frames not flagged as discontinuous")
	}
}

func TestAssembler_TimestampJumpMarksDiscontinuity(t *testing.T) {
	// After a device reconnect the sequence numbering continues without a
	// gap but the timeline jumps by the outage duration.
	a := NewAssembler(AssemblerConfig{Target: 2 * time.Second, MaxWait: time.Hour})

	a.Feed(toneFrame(1, 0, 500*time.Millisecond, 1000))
	a.Feed(toneFrame(2, 500*time.Millisecond, 500*time.Millisecond, 1000))
	a.Feed(toneFrame(3, 4*time.Second, 500*time.Millisecond, 1000))
	a.Feed(toneFrame(4, 4500*time.Millisecond, 500*time.Millisecond, 1000))

	w, ok := a.TryTakeWindow()
	if !ok {
		t.Fatal("no window produced")
	}
	if !w.Discontinuity {
		t.Error("window spanning a timestamp jump not flagged as discontinuous")
	}
	if w.Start != 0 || w.End != 5*time.Second {
		t.Errorf("window timestamp range = [%v, %v]; want [0, 5s]", w.Start, w.End)
	}
}

func TestAssembler_FlushReturnsRemainder(t *testing.T) {
	a := NewAssembler(AssemblerConfig{Target: 10 * time.Second, MaxWait: time.Hour})

	if _, ok := a.Flush(); ok {
		t.Error("Flush on empty assembler returned a window")
	}

	a.Feed(toneFrame(1, 0, 500*time.Millisecond, 1000))
	w, ok := a.Flush()
	if !ok {
		t.Fatal("Flush with pending audio returned nothing")
	}
	if got := w.Duration(); got != 500*time.Millisecond {
		t.Errorf("flushed duration = %v; want 500ms", got)
	}
	if _, ok := a.Flush(); ok {
		t.Error("second Flush returned a window")
	}
}

func TestAssembler_ConcatenatesFrameContent(t *testing.T) {
	a := NewAssembler(AssemblerConfig{Target: time.Second, MaxWait: time.Hour})

	f1 := toneFrame(1, 0, 500*time.Millisecond, 100)
	f2 := toneFrame(2, 500*time.Millisecond, 500*time.Millisecond, 200)
	a.Feed(f1)
	a.Feed(f2)

	w, ok := a.TryTakeWindow()
	if !ok {
		t.Fatal("no window produced")
	}
	if len(w.Data) != len(f1.Data)+len(f2.Data) {
		t.Fatalf("window data length = %d; want %d", len(w.Data), len(f1.Data)+len(f2.Data))
	}
	if got := int16(binary.LittleEndian.Uint16(w.Data[:2])); got != 100 {
		t.Errorf("first sample = %d; want 100", got)
	}
	if got := int16(binary.LittleEndian.Uint16(w.Data[len(f1.Data):])); got != 200 {
		t.Errorf("first sample of second frame = %d; want 200", got)
	}
}
