package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"upload-ai/internal/bootstrap"
	"upload-ai/internal/config"
	"upload-ai/internal/diagnostics"
	"upload-ai/internal/domain"
	"upload-ai/internal/history"
	"upload-ai/internal/pipeline"
	"upload-ai/internal/remote"
	"upload-ai/internal/server"
)

const (
	colorReset  = "\033[0m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorBlue   = "\033[34m"
	colorRed    = "\033[31m"
)

var stderr io.Writer = os.Stderr

func info(msg string, a ...any) {
	fmt.Fprintf(stderr, colorBlue+"[info] "+colorReset+msg+"\n", a...)
}

func warn(msg string, a ...any) {
	fmt.Fprintf(stderr, colorYellow+"[warn] "+colorReset+msg+"\n", a...)
}

func ok(msg string, a ...any) {
	fmt.Fprintf(stderr, colorGreen+"[ok] "+colorReset+msg+"\n", a...)
}

func fail(msg string, a ...any) {
	fmt.Fprintf(stderr, colorRed+"[error] "+colorReset+msg+"\n", a...)
}

const usage = `usage: upload-ai <command> [flags]

commands:
  run      convert, upload, and request transcription for one video
  prompts  list prompt suggestions from the server
  history  show recent runs
  serve    start the local HTTP/WebSocket host
  doctor   run environment diagnostics`

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(stderr, usage)
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch args[0] {
	case "run":
		return runPipeline(ctx, args[1:])
	case "prompts":
		return listPrompts(ctx, args[1:])
	case "history":
		return showHistory(ctx, args[1:])
	case "serve":
		return serve(ctx, args[1:])
	case "doctor":
		return doctor(args[1:])
	case "help", "-h", "--help":
		fmt.Fprintln(stderr, usage)
		return 0
	default:
		fail("unknown command: %s", args[0])
		fmt.Fprintln(stderr, usage)
		return 2
	}
}

func loadSettings() (domain.Settings, error) {
	return bootstrap.LoadSettings(config.NewJSONStore(config.SettingsPath()))
}

func runPipeline(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var (
		videoPath string
		prompt    string
		promptID  string
	)
	fs.StringVar(&videoPath, "video", "", "Input video file path (-v)")
	fs.StringVar(&videoPath, "v", "", "Input video file path")
	fs.StringVar(&prompt, "prompt", "", "Transcription prompt text")
	fs.StringVar(&promptID, "prompt-id", "", "Use the template of a server prompt by id")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if strings.TrimSpace(videoPath) == "" {
		fail("missing -video path")
		return 2
	}

	settings, err := loadSettings()
	if err != nil {
		fail("%v", err)
		return 1
	}

	services, err := bootstrap.NewServices(settings, nil)
	if err != nil {
		fail("wire services: %v", err)
		return 1
	}
	defer func() {
		if err := services.Close(context.Background()); err != nil {
			warn("shutdown: %v", err)
		}
	}()

	if promptID != "" {
		prompts, err := services.Remote.ListPrompts(ctx)
		if err != nil {
			fail("list prompts: %v", err)
			return 1
		}
		found, exists := remote.FindPrompt(prompts, promptID)
		if !exists {
			fail("unknown prompt id: %s", promptID)
			return 2
		}
		prompt = found.Template
		info("Using prompt %q", found.Title)
	}

	sel, err := bootstrap.LoadVideoFile(videoPath)
	if err != nil {
		fail("%v", err)
		return 1
	}
	if _, err := services.Controller.SelectVideo(sel); err != nil {
		fail("select video: %v", err)
		return 1
	}
	info("Selected %s (%s, %d bytes)", sel.Name, sel.MediaType, len(sel.Data))

	events, cancel := services.Controller.Subscribe(256)
	done := make(chan struct{})
	go func() {
		defer close(done)
		reportEvents(events)
	}()

	videoID, err := services.Controller.Submit(ctx, strings.TrimSpace(prompt))
	cancel()
	<-done

	if err != nil {
		var pipeErr *pipeline.PipelineError
		if errors.As(err, &pipeErr) {
			fail("%s failed: %v", pipeErr.Stage, pipeErr.Err)
		} else {
			fail("%v", err)
		}
		return 1
	}
	ok("Transcription requested for video %s", videoID)
	fmt.Println(videoID)
	return 0
}

// reportEvents prints status changes and coarse conversion progress.
func reportEvents(events <-chan pipeline.Event) {
	lastPercent := -1
	for event := range events {
		switch event.Type {
		case pipeline.EventTypeStatus:
			info("%s", event.State.Label())
		case pipeline.EventTypeProgress:
			percent := int(event.Progress * 100)
			if percent/10 != lastPercent/10 {
				info("Converting %d%%", percent)
				lastPercent = percent
			}
		case pipeline.EventTypeResult:
			ok("%s", event.State.Label())
		}
	}
}

func listPrompts(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("prompts", flag.ContinueOnError)
	fs.SetOutput(stderr)
	if err := fs.Parse(args); err != nil {
		return 2
	}

	settings, err := loadSettings()
	if err != nil {
		fail("%v", err)
		return 1
	}

	client := remote.New(settings.APIBaseURL, time.Duration(settings.HTTPTimeoutSeconds)*time.Second)
	prompts, err := client.ListPrompts(ctx)
	if err != nil {
		fail("%v", err)
		return 1
	}
	for _, p := range prompts {
		fmt.Printf("%s\t%s\n", p.ID, p.Title)
	}
	ok("%d prompts from %s", len(prompts), client.BaseURL())
	return 0
}

func showHistory(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("history", flag.ContinueOnError)
	fs.SetOutput(stderr)
	limit := fs.Int("limit", 20, "Number of runs to show")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	settings, err := loadSettings()
	if err != nil {
		fail("%v", err)
		return 1
	}

	store, err := history.Open(config.HistoryPath(settings))
	if err != nil {
		fail("%v", err)
		return 1
	}
	defer store.Close()

	runs, err := store.List(ctx, *limit)
	if err != nil {
		fail("%v", err)
		return 1
	}
	for _, r := range runs {
		outcome := string(r.FinalState)
		if r.FailedStage != "" {
			outcome = "failed at " + string(r.FailedStage)
		}
		if r.Superseded {
			outcome += " (superseded)"
		}
		fmt.Printf("%s\t%s\t%s\t%s\t%s\n", r.StartedAt.Local().Format(time.DateTime), r.VideoName, outcome, r.RemoteVideoID, r.Error)
	}
	return 0
}

func serve(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(stderr)
	addr := fs.String("addr", "", "Listen address (default from settings)")
	frontendDir := fs.String("frontend", "", "Directory with a browser front end to serve at /")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	settings, err := loadSettings()
	if err != nil {
		fail("%v", err)
		return 1
	}
	if *addr == "" {
		*addr = settings.ListenAddr
	}

	services, err := bootstrap.NewServices(settings, func(videoID string) {
		ok("Video uploaded: %s", videoID)
	})
	if err != nil {
		fail("wire services: %v", err)
		return 1
	}
	defer func() {
		if err := services.Close(context.Background()); err != nil {
			warn("shutdown: %v", err)
		}
	}()

	cfg := server.Config{
		Pipeline:    services.Controller,
		Prompts:     services.Remote,
		History:     services.History,
		Previews:    services.Previews,
		CORSOrigins: settings.CORSOrigins,
	}
	if *frontendDir != "" {
		cfg.Assets = http.FileServer(http.Dir(*frontendDir))
	}
	srv, err := server.New(cfg)
	if err != nil {
		fail("%v", err)
		return 1
	}

	info("Serving on http://%s (uploads to %s)", *addr, settings.APIBaseURL)
	if err := srv.ListenAndServe(ctx, *addr); err != nil {
		fail("%v", err)
		return 1
	}
	ok("Server stopped")
	return 0
}

func doctor(args []string) int {
	fs := flag.NewFlagSet("doctor", flag.ContinueOnError)
	fs.SetOutput(stderr)
	if err := fs.Parse(args); err != nil {
		return 2
	}

	settings, err := loadSettings()
	if err != nil {
		fail("%v", err)
		return 1
	}

	report := diagnostics.NewChecker().Run(settings)
	for _, item := range report.Items {
		switch item.Status {
		case domain.DiagnosticStatusPass:
			ok("%s: %s", item.Name, item.Message)
		default:
			fail("%s: %s", item.Name, item.Message)
			if item.Hint != "" {
				warn("%s", item.Hint)
			}
		}
	}
	if report.HasFailures {
		return 1
	}
	return 0
}
