package resilience

import (
	"context"
	"errors"
	"testing"

	"github.com/livecap-io/livecap/pkg/audio"
	"github.com/livecap-io/livecap/pkg/transcribe"
	"github.com/livecap-io/livecap/pkg/transcribe/mock"
)

func testWindow() audio.Window {
	return audio.Window{Data: make([]byte, 320), SampleRate: 16000, Channels: 1}
}

func TestEngineFallback_PrimarySucceeds(t *testing.T) {
	primary := &mock.Engine{}
	primary.Script(mock.Result{Text: "hello"})
	secondary := &mock.Engine{}

	f := NewEngineFallback(primary, "accelerated", FallbackConfig{})
	f.AddFallback("fallback", secondary)

	text, err := f.Transcribe(context.Background(), testWindow())
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if text != "hello" {
		t.Errorf("text = %q, want %q", text, "hello")
	}
	if secondary.CallCountTranscribe != 0 {
		t.Errorf("fallback engine called %d times, want 0", secondary.CallCountTranscribe)
	}
}

func TestEngineFallback_FailsOverOnUnavailable(t *testing.T) {
	primary := &mock.Engine{}
	primary.Script(mock.Result{Err: transcribe.ErrUnavailable})
	secondary := &mock.Engine{}
	secondary.Script(mock.Result{Text: "from fallback"})

	f := NewEngineFallback(primary, "accelerated", FallbackConfig{})
	f.AddFallback("fallback", secondary)

	text, err := f.Transcribe(context.Background(), testWindow())
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if text != "from fallback" {
		t.Errorf("text = %q, want %q", text, "from fallback")
	}
	if primary.CallCountTranscribe != 1 {
		t.Errorf("primary called %d times, want 1", primary.CallCountTranscribe)
	}
}

func TestEngineFallback_AllFailed(t *testing.T) {
	primary := &mock.Engine{}
	primary.Script(mock.Result{Err: transcribe.ErrUnavailable})
	secondary := &mock.Engine{}
	secondary.Script(mock.Result{Err: transcribe.ErrUnavailable})

	f := NewEngineFallback(primary, "accelerated", FallbackConfig{})
	f.AddFallback("fallback", secondary)

	_, err := f.Transcribe(context.Background(), testWindow())
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("error = %v, want ErrAllFailed", err)
	}
	// The underlying cause must survive the wrap so callers can classify it.
	if !errors.Is(err, transcribe.ErrUnavailable) {
		t.Errorf("error = %v, want to unwrap to ErrUnavailable", err)
	}
}

func TestEngineFallback_BreakerSkipsDeadPrimary(t *testing.T) {
	primary := &mock.Engine{}
	primary.Script(mock.Result{Err: transcribe.ErrUnavailable})
	secondary := &mock.Engine{}
	secondary.Script(mock.Result{Text: "ok"})

	f := NewEngineFallback(primary, "accelerated", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 2},
	})
	f.AddFallback("fallback", secondary)

	// Trip the primary's breaker.
	for range 3 {
		if _, err := f.Transcribe(context.Background(), testWindow()); err != nil {
			t.Fatalf("Transcribe: %v", err)
		}
	}
	if primary.CallCountTranscribe != 2 {
		t.Errorf("primary called %d times, want 2 (breaker open after that)",
			primary.CallCountTranscribe)
	}
	if secondary.CallCountTranscribe != 3 {
		t.Errorf("fallback called %d times, want 3", secondary.CallCountTranscribe)
	}
}

func TestEngineFallback_CloseClosesAll(t *testing.T) {
	primary := &mock.Engine{}
	secondary := &mock.Engine{}

	f := NewEngineFallback(primary, "accelerated", FallbackConfig{})
	f.AddFallback("fallback", secondary)

	if err := f.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if primary.CallCountClose != 1 || secondary.CallCountClose != 1 {
		t.Errorf("close counts = (%d, %d), want (1, 1)",
			primary.CallCountClose, secondary.CallCountClose)
	}
}
