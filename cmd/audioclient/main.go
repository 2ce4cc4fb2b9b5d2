// Command audioclient runs a local audio file through the solver's
// normalize and recognize pipeline, for checking a speech model offline.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"time"

	"recaptcha-audio-solver/internal/app"
	"recaptcha-audio-solver/internal/config"
	"recaptcha-audio-solver/internal/media"
	"recaptcha-audio-solver/internal/service/stt"
)

func main() {
	audioFile := flag.String("audio", "../../testdata/challenge.mp3", "compressed challenge audio")
	raw := flag.Bool("wav", false, "input is already 16-bit mono PCM WAV")
	flag.Parse()

	cfg := config.Load()

	data, err := os.ReadFile(*audioFile)
	if err != nil {
		log.Fatalf("Failed to read audio file: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	model, err := app.NewModel(ctx, cfg.STT)
	if err != nil {
		log.Fatalf("Failed to load %s model: %v", cfg.STT.Provider, err)
	}
	defer model.Close()

	if !*raw {
		start := time.Now()
		data, err = media.NewNormalizer(cfg.Solver.TranscodeBinary).Normalize(ctx, data)
		if err != nil {
			log.Fatalf("Failed to normalize audio: %v", err)
		}
		log.Printf("Normalized %s to %d bytes in %s", *audioFile, len(data), time.Since(start).Round(time.Millisecond))
	}

	transcriber := stt.NewTranscriber(model,
		stt.WithFrameBytes(cfg.STT.FrameBytes),
		stt.WithMaxAlternatives(cfg.STT.MaxAlternatives),
	)
	start := time.Now()
	text, err := transcriber.Transcribe(ctx, data)
	if err != nil {
		log.Fatalf("Transcription failed: %v", err)
	}
	log.Printf("Transcript (%s, %s): %q", model.Name(), time.Since(start).Round(time.Millisecond), text)
}
