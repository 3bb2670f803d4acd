package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"qwentts/internal/pkg/qwentts/audio"
	"qwentts/internal/pkg/qwentts/conditioning"
	"qwentts/internal/pkg/qwentts/config"
	"qwentts/internal/pkg/qwentts/engine"
	"qwentts/internal/pkg/qwentts/hub"
	"qwentts/internal/pkg/qwentts/ingest"
	"qwentts/internal/pkg/qwentts/playback"
	"qwentts/internal/pkg/qwentts/registry"
	"qwentts/internal/pkg/qwentts/samples"

	"qwentts/internal/pkg/qwentts/backend/qwen3"
)

func main() {
	fmt.Fprintf(os.Stderr, "qwentts %s\n", Version)

	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	cfg, err := config.LoadAndParse()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to parse configuration")
	}

	if err := setupLogging(cfg); err != nil {
		log.Fatal().Err(err).Msg("Failed to setup logging")
	}

	library := samples.NewLibrary(cfg.SamplesDir)

	if cfg.ListSamples {
		names, err := library.List()
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to list samples")
		}
		fmt.Fprintf(os.Stderr, "Recorded samples (%d):\n", len(names))
		for _, n := range names {
			fmt.Fprintf(os.Stderr, "  %s\n", n)
		}
		return
	}

	ingestor := ingest.New(
		ingest.Config{TargetRate: audio.SampleRate},
		ingest.OpenMicrophone(audio.SampleRate),
		log.Logger,
	)

	if cfg.Record > 0 {
		recordSample(cfg, ingestor, library)
		return
	}

	if cfg.ListDevices {
		listDevices()
		return
	}

	mode, err := conditioning.ParseMode(cfg.Mode)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid mode")
	}

	cache := hub.New(cfg.ModelsDir, log.Logger)
	loader := qwen3.NewLoader(cache, log.Logger)
	reg := registry.New(loader, registry.Config{
		ModelIDs: map[conditioning.Mode]string{
			conditioning.ModeCustomVoice: cfg.CustomVoiceModel,
			conditioning.ModeVoiceDesign: cfg.VoiceDesignModel,
			conditioning.ModeVoiceClone:  cfg.VoiceCloneModel,
		},
		MaxResident: cfg.MaxResident,
	}, log.Logger)
	defer reg.Close()

	if cfg.ListVoices {
		listVoices(reg)
		return
	}

	catalog := cfg.SpeakerCatalog()
	if catalog == nil {
		catalog = conditioning.DefaultSpeakers
	}
	builder := conditioning.NewBuilder(catalog, audio.SampleRate)

	payload, err := buildPayload(cfg, mode, builder, ingestor, library)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid conditioning input")
	}

	req, err := engine.NewRequest(cfg.Text, payload)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid request")
	}

	eng := engine.New(reg, log.Logger)

	log.Info().Str("mode", string(mode)).Str("text", truncateText(cfg.Text, 50)).Msg("Generating speech...")
	outcomes, err := eng.Start(req)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to start synthesis")
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)

	var result *audio.Audio
	select {
	case out := <-outcomes:
		if out.Err != nil {
			if errors.Is(out.Err, context.Canceled) {
				log.Warn().Msg("Synthesis cancelled")
				return
			}
			log.Fatal().Err(out.Err).Msg("Failed to generate audio")
		}
		result = out.Audio
	case <-sigs:
		log.Warn().Msg("Interrupted, cancelling...")
		eng.Cancel()
		out := <-outcomes
		if out.Err != nil {
			return
		}
		result = out.Audio
	}

	if cfg.Output != "" {
		if err := result.SaveWAV(cfg.Output); err != nil {
			log.Fatal().Err(err).Msg("Failed to save audio")
		}
		log.Info().Str("output", cfg.Output).Msg("Audio saved")
	}

	if cfg.Play {
		playResult(cfg, result, sigs)
	}
}

func playResult(cfg *config.Config, result *audio.Audio, sigs chan os.Signal) {
	host, err := playback.NewPortAudioHost()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize audio output")
	}
	defer host.Close()

	router := playback.NewRouter(host, log.Logger)
	p, err := router.Play(result, cfg.Device)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to play audio")
	}

	log.Info().Str("device", p.Device.Name).Msg("Playing...")

	done := make(chan error, 1)
	go func() { done <- p.Wait() }()

	select {
	case err := <-done:
		if err != nil {
			log.Fatal().Err(err).Msg("Playback failed")
		}
	case <-sigs:
		router.Stop()
		<-done
		log.Info().Msg("Playback stopped")
	}
}

func recordSample(cfg *config.Config, ingestor *ingest.Ingestor, library *samples.Library) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Record*float64(time.Second)))
	defer cancel()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigs
		cancel()
	}()

	log.Info().Float64("seconds", cfg.Record).Msg("Recording reference clip (Ctrl-C to stop early)...")
	clip, err := ingestor.Record(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to record reference clip")
	}

	name, err := library.Save(clip, cfg.RefText)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to save sample")
	}
	log.Info().Str("sample", name).Float64("duration_sec", clip.Duration()).Msg("Sample saved")
}

func listDevices() {
	host, err := playback.NewPortAudioHost()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize audio output")
	}
	defer host.Close()

	devices, err := playback.NewRouter(host, log.Logger).Devices()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to enumerate devices")
	}
	fmt.Fprintf(os.Stderr, "Output devices (%d):\n", len(devices))
	for _, d := range devices {
		marker := " "
		if d.Default {
			marker = "*"
		}
		fmt.Fprintf(os.Stderr, " %s %s\n", marker, d.Name)
	}
}

func listVoices(reg *registry.Registry) {
	handle, err := reg.Acquire(context.Background(), conditioning.ModeCustomVoice)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load CustomVoice model")
	}
	defer reg.Release(handle)

	voices := handle.Model.Speakers()
	fmt.Fprintf(os.Stderr, "Available voices (%d):\n", len(voices))
	for _, v := range voices {
		fmt.Fprintf(os.Stderr, "  %s\n", v)
	}
}

// buildPayload gathers the mode's raw inputs and runs them through the
// conditioning builder. For clone mode the reference comes from a WAV path
// or a sample name in the library.
func buildPayload(cfg *config.Config, mode conditioning.Mode, builder *conditioning.Builder, ingestor *ingest.Ingestor, library *samples.Library) (conditioning.Payload, error) {
	in := conditioning.Inputs{
		SpeakerID:   cfg.Speaker,
		Preset:      conditioning.Preset(cfg.Preset),
		Style:       cfg.Instruct,
		Description: cfg.Describe,
		Transcript:  cfg.RefText,
	}

	if mode == conditioning.ModeVoiceClone {
		if cfg.Ref == "" {
			return conditioning.Payload{}, fmt.Errorf("voice cloning needs a reference clip (--ref)")
		}

		var ref *audio.Audio
		if _, err := os.Stat(cfg.Ref); err == nil {
			clip, err := ingestor.FromFile(cfg.Ref)
			if err != nil {
				return conditioning.Payload{}, err
			}
			ref = clip
		} else {
			raw, channels, transcript, err := library.Load(cfg.Ref)
			if err != nil {
				return conditioning.Payload{}, err
			}
			clip, err := ingestor.Normalize(raw, channels)
			if err != nil {
				return conditioning.Payload{}, err
			}
			ref = clip
			if in.Transcript == "" {
				in.Transcript = transcript
			}
		}
		in.Reference = ref
	}

	return builder.Build(mode, in)
}

func setupLogging(cfg *config.Config) error {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.LogFile != "" {
		f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		log.Logger = zerolog.New(f).With().Timestamp().Logger()
	}

	return nil
}

func truncateText(text string, maxLen int) string {
	runes := []rune(text)
	if len(runes) <= maxLen {
		return text
	}
	return string(runes[:maxLen]) + "..."
}
