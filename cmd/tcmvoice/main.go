// tcmvoice is a voice-driven terminal front end for the TCM wellness site:
// herb catalog, AI doctor and wellness plans, operated by speech or typing.
//
// Usage:
//
//	tcmvoice [--verbose] [--quiet] [--voice] [--page herbs]
package main

import (
	"context"
	"fmt"
	"io"
	stdlog "log"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	flag "github.com/spf13/pflag"

	"github.com/hammamikhairi/tcmvoice/internal/command"
	"github.com/hammamikhairi/tcmvoice/internal/conversation"
	"github.com/hammamikhairi/tcmvoice/internal/display"
	"github.com/hammamikhairi/tcmvoice/internal/domain"
	"github.com/hammamikhairi/tcmvoice/internal/engine"
	"github.com/hammamikhairi/tcmvoice/internal/herbs"
	"github.com/hammamikhairi/tcmvoice/internal/logger"
	"github.com/hammamikhairi/tcmvoice/internal/qa"
	"github.com/hammamikhairi/tcmvoice/internal/speech"
	"github.com/hammamikhairi/tcmvoice/internal/storage"
	"github.com/hammamikhairi/tcmvoice/internal/voice"
)

const (
	envQAEndpoint    = "TCM_QA_ENDPOINT"
	envOpenAIKey     = "OPENAI_API_KEY"
	envOpenAIBaseURL = "OPENAI_BASE_URL"
	envOpenAIModel   = "OPENAI_MODEL"

	defaultQAEndpoint = "http://10.10.230.91:8000"
	welcome           = "欢迎使用中医康养语音助手"
)

func main() {
	_ = godotenv.Load()

	verbose := flag.BoolP("verbose", "v", false, "enable verbose/debug logging")
	quiet := flag.BoolP("quiet", "q", false, "disable all logging")
	logFile := flag.String("log-file", ".tcm-logs/tcmvoice.log", "file to write logs to (use \"stderr\" to log to console)")
	noSpeech := flag.Bool("no-speech", false, "disable text-to-speech even if Azure keys are set")
	diskCache := flag.Bool("disk-cache", true, "persist TTS audio cache to disk (reads from disk even when false)")
	cacheDir := flag.String("cache-dir", ".tcm-cache", "directory for persistent TTS audio cache")
	voiceIn := flag.Bool("voice", false, "enable voice input via local Whisper STT")
	whisperBin := flag.String("whisper-bin", envOr(speech.EnvWhisperBin, "whisper-cli"), "path to the whisper-cpp CLI binary")
	whisperModel := flag.String("whisper-model", envOr(speech.EnvWhisperModel, "bin/ggml-small.bin"), "path to the Whisper GGML model file")
	recordSecs := flag.Int("record-secs", 2, "seconds per voice recording chunk")
	listenTimeout := flag.Duration("listen-timeout", 15*time.Second, "longest a single voice command may run")
	ttsVoice := flag.String("tts-voice", speech.DefaultVoice, "Azure neural voice used for reading aloud")
	lang := flag.String("lang", domain.DefaultLang, "locale for recognition and synthesis")
	qaTimeout := flag.Duration("qa-timeout", 60*time.Second, "timeout for one Q&A request")
	qaEndpoint := flag.String("qa-endpoint", envOr(envQAEndpoint, defaultQAEndpoint), "base URL of the TCM Q&A service")
	dataDir := flag.String("data-dir", ".tcm-data", "directory for the local user profile (empty keeps it in memory)")
	herbsFile := flag.String("herbs", "", "herb catalog JSON file (built-in catalog when empty)")
	startPage := flag.String("page", string(domain.PageIndex), "page to start on (index, herbs, ai_doctor, plan, evaluation, about)")
	flag.Parse()

	page, err := domain.ParsePage(*startPage)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: --page: %v (want one of %v)\n", err, domain.Pages)
		os.Exit(2)
	}

	// Configure logger.
	logLevel := logger.LevelNormal
	if *verbose {
		logLevel = logger.LevelVerbose
	}
	if *quiet {
		logLevel = logger.LevelOff
	}

	// Direct logs to a file by default so the TUI stays clean.
	var logOut io.Writer = os.Stderr
	if *logFile != "" && *logFile != "stderr" {
		dir := filepath.Dir(*logFile)
		if dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				fmt.Fprintf(os.Stderr, "warning: could not create log dir %s: %v\n", dir, err)
			}
		}
		f, err := os.OpenFile(*logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "warning: could not open log file %s: %v (falling back to stderr)\n", *logFile, err)
		} else {
			logOut = f
			defer f.Close()
		}
	}

	// The whisper transcriber logs through the standard library.
	stdlog.SetOutput(logOut)
	stdlog.SetFlags(stdlog.Ltime)

	log := logger.New(logLevel, logOut)

	// Cancelled when the UI quits.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ── Data ──

	var store domain.ProfileStore = storage.NewMemoryStore(log)
	if *dataDir != "" {
		fs, err := storage.NewFileStore(*dataDir, log)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		store = fs
	}

	var catalog *herbs.Catalog
	if *herbsFile != "" {
		catalog, err = herbs.LoadFile(*herbsFile, log)
	} else {
		catalog, err = herbs.NewCatalog(log)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	client, backend := buildQA(*qaEndpoint, *qaTimeout, log)

	// ── Voice ──

	var synth domain.Synthesizer
	var mouth *speech.Mouth

	azureKey := os.Getenv(speech.EnvAzureSpeechKey)
	azureRegion := os.Getenv(speech.EnvAzureSpeechRegion)

	if azureKey != "" && azureRegion != "" && !*noSpeech {
		ttsClient := speech.NewAzureClient(azureKey, azureRegion, log, speech.WithVoice(*ttsVoice))
		player, err := speech.NewPlayer(log)
		if err != nil {
			log.Error("audio player init failed, speech disabled: %v", err)
		} else {
			mouth = speech.NewMouth(ttsClient, player, log,
				speech.WithCacheDir(*cacheDir),
				speech.WithDiskWrite(*diskCache),
			)
			mouth.Prefetch(ctx, welcome)
			synth = mouth
			log.Info("TTS enabled (voice=%s, region=%s)", *ttsVoice, azureRegion)
		}
	} else if !*noSpeech {
		log.Info("TTS disabled: set %s and %s env vars to enable", speech.EnvAzureSpeechKey, speech.EnvAzureSpeechRegion)
	}

	var rec domain.Recognizer
	if *voiceIn {
		ear := speech.NewEar(*whisperBin, *whisperModel, log,
			speech.WithRecordDuration(time.Duration(*recordSecs)*time.Second),
			speech.WithListenTimeout(*listenTimeout),
		)
		switch {
		case !ear.Available():
			log.Error("whisper binary %q not found, voice input disabled", *whisperBin)
		case !fileExists(*whisperModel):
			log.Error("whisper model not found at %s, voice input disabled", *whisperModel)
		default:
			rec = ear
			log.Info("voice input enabled (bin=%s, model=%s, chunk=%ds)", *whisperBin, *whisperModel, *recordSecs)
		}
	}

	// ── Application ──

	// The controller is created after the doctor and the engine, which
	// both reach it through these closures.
	var ctrl *voice.Controller
	var eng *engine.Engine

	ui := display.NewUI(
		func() display.Status {
			var st display.Status
			if eng != nil {
				st.Page = eng.Page()
			}
			if ctrl != nil {
				st.Voice = ctrl.State()
			}
			return st
		},
		display.WithToggleKey(func() { ctrl.Toggle() }),
		display.WithStopKey(func() { ctrl.StopSpeaking() }),
	)
	notifier := conversation.NewCLINotifier(log, ui.Printf)

	doctor := conversation.NewDoctor(client, store, notifier,
		func(text string) <-chan error { return ctrl.Speak(text) },
		log,
		conversation.WithOutput(ui.PrintTurn),
	)

	eng = engine.New(catalog, doctor, client, store, notifier, log,
		engine.WithInitialPage(page),
		engine.WithOutput(ui.Printf),
	)

	ctrl = voice.New(rec, synth, notifier, command.NewParser(log.Named("parser")), log.Named("voice"),
		voice.WithDispatcher(eng.Router()),
		voice.WithPageSource(eng.Page),
		voice.WithLang(*lang),
	)
	eng.SetVoice(ctrl)

	fmt.Println(display.RenderBanner(display.Startup{
		VoiceInput: rec != nil,
		Speech:     synth != nil,
		Backend:    backend,
	}))

	// Run app logic in a background goroutine.
	go func() {
		ui.WaitReady()
		ctrl.Start(ctx)
		if synth != nil {
			ctrl.Speak(welcome)
		}
		run(ctx, eng, ui)
		ui.Quit()
	}()

	// Bubble Tea owns the terminal and blocks until quit.
	if err := ui.Run(); err != nil {
		log.Error("display: %v", err)
	}
	cancel()
}

// run feeds typed lines to the engine until the user quits or the UI closes.
func run(ctx context.Context, eng *engine.Engine, ui *display.UI) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-ui.QuitChan():
			return
		case line := <-ui.InputChan():
			if eng.HandleInput(ctx, line) {
				return
			}
		}
	}
}

// buildQA picks the chat-model backend when an OpenAI key is configured,
// the site's Q&A service otherwise. The label is shown in the banner.
func buildQA(endpoint string, timeout time.Duration, log *logger.Logger) (domain.QAClient, string) {
	if key := os.Getenv(envOpenAIKey); key != "" {
		var opts []qa.OpenAIOption
		label := "OpenAI"
		if model := os.Getenv(envOpenAIModel); model != "" {
			opts = append(opts, qa.WithModel(model))
			label += " (" + model + ")"
		}
		log.Info("Q&A backend: OpenAI-compatible API")
		return qa.NewOpenAIClient(key, os.Getenv(envOpenAIBaseURL), log, opts...), label
	}
	log.Info("Q&A backend: %s", endpoint)
	return qa.NewHTTPClient(endpoint, log, qa.WithHTTPTimeout(timeout)), endpoint
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
