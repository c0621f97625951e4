package audio

import (
	"encoding/binary"
	"math"
)

// PCMToFloat32 converts 16-bit signed little-endian PCM audio to float32
// samples normalised to the range [-1.0, 1.0]. The input length must be
// even (two bytes per sample); any trailing odd byte is silently ignored.
func PCMToFloat32(pcm []byte) []float32 {
	n := len(pcm) / 2
	samples := make([]float32, n)
	for i := range n {
		sample := int16(binary.LittleEndian.Uint16(pcm[i*2 : i*2+2]))
		samples[i] = float32(sample) / 32768.0
	}
	return samples
}

// PCMToFloat32Mono down-mixes multi-channel 16-bit PCM to mono float32 by
// averaging all channels per frame. If channels is 1 this is equivalent to
// PCMToFloat32.
func PCMToFloat32Mono(pcm []byte, channels int) []float32 {
	if channels <= 1 {
		return PCMToFloat32(pcm)
	}
	samplesPerChannel := len(pcm) / (2 * channels)
	mono := make([]float32, samplesPerChannel)
	for i := range samplesPerChannel {
		var sum float32
		for ch := range channels {
			idx := (i*channels + ch) * 2
			sample := int16(binary.LittleEndian.Uint16(pcm[idx : idx+2]))
			sum += float32(sample) / 32768.0
		}
		mono[i] = sum / float32(channels)
	}
	return mono
}

// RMS computes the root-mean-square energy of 16-bit signed little-endian
// PCM audio in native 16-bit units (0..32767). Used by the silence detector
// to decide whether a stretch of audio carries speech.
func RMS(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := range n {
		sample := float64(int16(binary.LittleEndian.Uint16(pcm[i*2 : i*2+2])))
		sum += sample * sample
	}
	return math.Sqrt(sum / float64(n))
}

// Peak returns the largest absolute sample value of 16-bit signed
// little-endian PCM audio, normalised to [0.0, 1.0].
func Peak(pcm []byte) float64 {
	n := len(pcm) / 2
	var peak float64
	for i := range n {
		sample := math.Abs(float64(int16(binary.LittleEndian.Uint16(pcm[i*2 : i*2+2]))))
		if sample > peak {
			peak = sample
		}
	}
	return peak / 32768.0
}
