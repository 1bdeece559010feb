//go:build portaudio

package main

import (
	"github.com/MrWong99/vadcapture/internal/config"
	"github.com/MrWong99/vadcapture/pkg/audio"
	"github.com/MrWong99/vadcapture/pkg/audio/capture"
)

func init() {
	nativeMicrophones["portaudio"] = func(config.ProviderEntry) (audio.Microphone, error) {
		return capture.NewPortAudio()
	}
}
