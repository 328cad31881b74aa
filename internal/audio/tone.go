package audio

import "math"

// SineTonePCM16LE generates durationMS milliseconds of a mono sine tone as
// PCM16LE samples. Used by the probe CLI to produce deterministic utterance
// audio without a microphone.
func SineTonePCM16LE(freqHz float64, durationMS, sampleRate int) []byte {
	if sampleRate <= 0 {
		sampleRate = 16000
	}
	if durationMS <= 0 {
		durationMS = 1000
	}
	if freqHz <= 0 {
		freqHz = 440
	}

	samples := sampleRate * durationMS / 1000
	pcm := make([]byte, samples*2)
	const amplitude = 0.3 * math.MaxInt16
	for i := 0; i < samples; i++ {
		v := int16(amplitude * math.Sin(2*math.Pi*freqHz*float64(i)/float64(sampleRate)))
		pcm[i*2] = byte(v)
		pcm[i*2+1] = byte(v >> 8)
	}
	return pcm
}
