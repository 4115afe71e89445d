package pipeline

import "github.com/MrWong99/glyphoxa/pkg/audio"

// pcmDurationMs returns the playback duration of pcm in milliseconds.
func pcmDurationMs(pcm audio.PCM) int {
	bytesPerSample := pcm.BitsPerSample / 8
	if bytesPerSample <= 0 || pcm.Channels <= 0 || pcm.SampleRate <= 0 {
		return 0
	}
	frameSize := bytesPerSample * pcm.Channels
	numFrames := len(pcm.Data) / frameSize
	return numFrames * 1000 / pcm.SampleRate
}
