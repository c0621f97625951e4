package audio

import (
	"encoding/binary"
	"math"
	"testing"
	"time"
)

func pcmFromSamples(values []int16) []byte {
	pcm := make([]byte, len(values)*2)
	for i, v := range values {
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(v))
	}
	return pcm
}

func TestPCMToFloat32_Empty(t *testing.T) {
	out := PCMToFloat32(nil)
	if len(out) != 0 {
		t.Fatalf("expected 0 samples, got %d", len(out))
	}
}

func TestPCMToFloat32_FullScale(t *testing.T) {
	tests := []struct {
		name  string
		value int16
		want  float32
	}{
		{"max positive", 32767, 32767.0 / 32768.0},
		{"max negative", -32768, -1.0},
		{"zero", 0, 0.0},
		{"mid positive", 16384, 16384.0 / 32768.0},
		{"mid negative", -16384, -16384.0 / 32768.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := PCMToFloat32(pcmFromSamples([]int16{tt.value}))
			if math.Abs(float64(out[0]-tt.want)) > 1e-6 {
				t.Errorf("PCMToFloat32(%d) = %f; want %f", tt.value, out[0], tt.want)
			}
		})
	}
}

func TestPCMToFloat32_OddByteCount(t *testing.T) {
	// 3 bytes → only 1 complete sample (trailing byte ignored)
	out := PCMToFloat32([]byte{0x00, 0x40, 0xFF})
	if len(out) != 1 {
		t.Fatalf("expected 1 sample from 3-byte input, got %d", len(out))
	}
}

func TestPCMToFloat32Mono_Stereo(t *testing.T) {
	// Two frames of stereo: (1000, 3000) and (-2000, -4000)
	mono := PCMToFloat32Mono(pcmFromSamples([]int16{1000, 3000, -2000, -4000}), 2)
	if len(mono) != 2 {
		t.Fatalf("expected 2 mono samples from 4-sample stereo, got %d", len(mono))
	}
	want0 := (float32(1000)/32768.0 + float32(3000)/32768.0) / 2.0
	if math.Abs(float64(mono[0]-want0)) > 1e-6 {
		t.Errorf("mono[0] = %f; want %f", mono[0], want0)
	}
	want1 := (float32(-2000)/32768.0 + float32(-4000)/32768.0) / 2.0
	if math.Abs(float64(mono[1]-want1)) > 1e-6 {
		t.Errorf("mono[1] = %f; want %f", mono[1], want1)
	}
}

func TestPCMToFloat32Mono_SingleChannelMatchesDirect(t *testing.T) {
	pcm := pcmFromSamples([]int16{100, -200, 300})
	mono := PCMToFloat32Mono(pcm, 1)
	direct := PCMToFloat32(pcm)
	if len(mono) != len(direct) {
		t.Fatalf("length mismatch: mono=%d, direct=%d", len(mono), len(direct))
	}
	for i := range mono {
		if mono[i] != direct[i] {
			t.Errorf("sample[%d]: mono=%f, direct=%f", i, mono[i], direct[i])
		}
	}
}

func TestRMS_Silence(t *testing.T) {
	if got := RMS(pcmFromSamples(make([]int16, 160))); got != 0 {
		t.Errorf("RMS of silence = %f; want 0", got)
	}
	if got := RMS(nil); got != 0 {
		t.Errorf("RMS of empty input = %f; want 0", got)
	}
}

func TestRMS_ConstantAmplitude(t *testing.T) {
	// A constant signal's RMS equals its amplitude.
	values := make([]int16, 320)
	for i := range values {
		values[i] = 1000
	}
	got := RMS(pcmFromSamples(values))
	if math.Abs(got-1000) > 1e-6 {
		t.Errorf("RMS = %f; want 1000", got)
	}
}

func TestPeak(t *testing.T) {
	got := Peak(pcmFromSamples([]int16{100, -16384, 200}))
	want := 16384.0 / 32768.0
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("Peak = %f; want %f", got, want)
	}
}

func TestFrameDuration(t *testing.T) {
	tests := []struct {
		name       string
		samples    int
		sampleRate int
		channels   int
		want       time.Duration
	}{
		{"half second mono 16k", 8000, 16000, 1, 500 * time.Millisecond},
		{"one second mono 16k", 16000, 16000, 1, time.Second},
		{"stereo halves sample count", 16000, 16000, 2, 500 * time.Millisecond},
		{"zero rate", 8000, 0, 1, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := Frame{
				Data:       make([]byte, tt.samples*2),
				SampleRate: tt.sampleRate,
				Channels:   tt.channels,
			}
			if got := f.Duration(); got != tt.want {
				t.Errorf("Duration() = %v; want %v", got, tt.want)
			}
		})
	}
}

func TestFrameEnd(t *testing.T) {
	f := Frame{
		Data:       make([]byte, 8000*2),
		SampleRate: 16000,
		Channels:   1,
		Timestamp:  2 * time.Second,
	}
	if got, want := f.End(), 2500*time.Millisecond; got != want {
		t.Errorf("End() = %v; want %v", got, want)
	}
}

func TestWindowDuration_IgnoresTimestampRange(t *testing.T) {
	// A window spanning a discontinuity covers a larger timestamp range than
	// its actual audio content; Duration must reflect the content.
	w := Window{
		Data:       make([]byte, 16000*2),
		SampleRate: 16000,
		Channels:   1,
		Start:      0,
		End:        5 * time.Second,
	}
	if got := w.Duration(); got != time.Second {
		t.Errorf("Duration() = %v; want 1s", got)
	}
}
