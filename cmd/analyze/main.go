package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/eleven-am/vision-chat/internal/inference"
	"github.com/eleven-am/vision-chat/internal/llmlog"
	"github.com/eleven-am/vision-chat/internal/media"
	"github.com/eleven-am/vision-chat/internal/ollama"
	"github.com/eleven-am/vision-chat/internal/sampler"
	"github.com/eleven-am/vision-chat/internal/stream"
)

type options struct {
	mediaPath string
	question  string
	numFrames int
	scale     float64
	model     string
	ollamaURL string
	maxTokens int
	sampling  bool
	verbose   bool
}

func parseFlags(args []string) (*options, error) {
	fs := flag.NewFlagSet("analyze", flag.ContinueOnError)
	o := &options{}
	fs.StringVar(&o.mediaPath, "media", "", "path to an image or video")
	fs.StringVar(&o.question, "question", "", "question to ask (defaults to a description prompt)")
	fs.IntVar(&o.numFrames, "num-frames", 16, "frames to sample from a video")
	fs.Float64Var(&o.scale, "scale", 1.0, "resize factor applied to every frame")
	fs.StringVar(&o.model, "model", envOr("MODEL", "qwen2.5vl:7b"), "model name")
	fs.StringVar(&o.ollamaURL, "ollama-url", envOr("OLLAMA_URL", "http://localhost:11434"), "Ollama server URL")
	fs.IntVar(&o.maxTokens, "max-tokens", inference.DefaultMaxTokens, "maximum tokens to generate")
	fs.BoolVar(&o.sampling, "sampling", true, "sample instead of greedy decoding")
	fs.BoolVar(&o.verbose, "v", false, "log model traffic to stderr")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if o.mediaPath == "" {
		return nil, fmt.Errorf("-media is required")
	}
	if o.numFrames < 1 {
		return nil, fmt.Errorf("-num-frames must be at least 1")
	}
	if err := sampler.ValidateScale(o.scale); err != nil {
		return nil, err
	}
	return o, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func loadMedia(ctx context.Context, o *options, logger *slog.Logger) (*media.Input, error) {
	kind, err := media.KindOf(o.mediaPath)
	if err != nil {
		return nil, err
	}
	if kind == media.KindImage {
		return media.LoadImage(o.mediaPath, o.scale)
	}

	reader := media.NewFFmpegReader(media.Config{
		FFmpegPath:  envOr("FFMPEG_PATH", "ffmpeg"),
		FFprobePath: envOr("FFPROBE_PATH", "ffprobe"),
	})
	in, err := media.NewExtractor(reader, logger).ExtractFrames(ctx, o.mediaPath, o.numFrames, o.scale)
	if err != nil {
		return nil, err
	}
	in.Source = filepath.Base(o.mediaPath)
	return in, nil
}

// printer writes the answer to out as it grows. Only the unseen suffix is
// written; if the answer is rewritten rather than extended it is printed again
// on a new line.
type printer struct {
	out   io.Writer
	acc   *stream.Accumulator
	shown string
	err   error
}

func newPrinter(out io.Writer, policy stream.Policy) *printer {
	acc := stream.NewAccumulator(policy)
	acc.Begin()
	return &printer{out: out, acc: acc}
}

func (p *printer) OnDelta(text string) {
	answer := p.acc.Apply(text)
	if strings.HasPrefix(answer, p.shown) {
		fmt.Fprint(p.out, answer[len(p.shown):])
	} else {
		fmt.Fprint(p.out, "\n", answer)
	}
	p.shown = answer
}

func (p *printer) OnComplete(finalText string) { fmt.Fprintln(p.out) }
func (p *printer) OnError(err error)           { p.err = err }

func run(ctx context.Context, o *options, stdout, stderr io.Writer) error {
	level := slog.LevelWarn
	if o.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))

	in, err := loadMedia(ctx, o, logger)
	if err != nil {
		return err
	}

	question := o.question
	if question == "" {
		question = in.DefaultQuestion()
	}

	var model inference.Model = ollama.NewClient(ollama.Config{URL: o.ollamaURL, Model: o.model})
	if o.verbose {
		model = llmlog.NewModelDecorator(model, logger)
	}

	session, err := inference.NewSession(model, &inference.Request{
		Media:     in,
		Question:  question,
		MaxTokens: o.maxTokens,
		Sampling:  o.sampling,
	}, logger)
	if err != nil {
		return err
	}

	fmt.Fprintf(stderr, "%s: %d frame(s) from %s\n", model.Name(), in.Len(), in.Source)
	fmt.Fprintf(stdout, "#### %s\n\n>>>> ", question)

	p := newPrinter(stdout, model.Delivery())
	inference.Deliver(session.Start(ctx), p)
	return p.err
}

func main() {
	o, err := parseFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "analyze: %v\n", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, o, os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "\nanalyze: %v\n", err)
		os.Exit(1)
	}
}
