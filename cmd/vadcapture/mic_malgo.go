//go:build malgo

package main

import (
	"github.com/MrWong99/vadcapture/internal/config"
	"github.com/MrWong99/vadcapture/pkg/audio"
	"github.com/MrWong99/vadcapture/pkg/audio/capture"
)

func init() {
	nativeMicrophones["malgo"] = func(config.ProviderEntry) (audio.Microphone, error) {
		return capture.NewMalgo()
	}
}
