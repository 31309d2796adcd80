package media

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"log/slog"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/eleven-am/vision-chat/internal/sampler"
)

// FrameReader gives random access to the decoded frames of a video.
type FrameReader interface {
	FrameCount(ctx context.Context, path string) (int, error)
	ReadFrame(ctx context.Context, path string, index int) (image.Image, error)
}

type Extractor struct {
	reader FrameReader
	logger *slog.Logger
}

func NewExtractor(reader FrameReader, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{
		reader: reader,
		logger: logger.With("component", "frame-extractor"),
	}
}

// ExtractFrames decodes only the frames picked by sampler.Sample and rescales
// them. Frames that fail to decode are skipped; if none survive the source is
// reported as empty.
func (e *Extractor) ExtractFrames(ctx context.Context, path string, maxCount int, scale float64) (*Input, error) {
	count, err := e.reader.FrameCount(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("count frames: %w", err)
	}

	indices, err := sampler.Sample(count, maxCount)
	if err != nil {
		return nil, err
	}

	frames := make([]Frame, 0, len(indices))
	for _, idx := range indices {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		img, err := e.reader.ReadFrame(ctx, path, idx)
		if err != nil {
			e.logger.Debug("frame decode failed", "index", idx, "error", err)
			continue
		}

		img, err = sampler.Rescale(img, scale)
		if err != nil {
			return nil, err
		}
		frames = append(frames, NewFrame(idx, img))
	}

	if len(frames) == 0 {
		return nil, ErrEmptySource
	}

	e.logger.Info("frames extracted",
		"source", filepath.Base(path),
		"source_frames", count,
		"sampled", len(frames),
		"scale", scale)

	return &Input{
		Kind:        KindVideo,
		Source:      filepath.Base(path),
		SourceCount: count,
		Frames:      frames,
	}, nil
}

type FFmpegReader struct {
	ffmpegPath  string
	ffprobePath string
}

func NewFFmpegReader(cfg Config) *FFmpegReader {
	r := &FFmpegReader{
		ffmpegPath:  cfg.FFmpegPath,
		ffprobePath: cfg.FFprobePath,
	}
	if r.ffmpegPath == "" {
		r.ffmpegPath = "ffmpeg"
	}
	if r.ffprobePath == "" {
		r.ffprobePath = "ffprobe"
	}
	return r
}

func (r *FFmpegReader) FrameCount(ctx context.Context, path string) (int, error) {
	cmd := exec.CommandContext(ctx, r.ffprobePath,
		"-v", "error",
		"-select_streams", "v:0",
		"-count_packets",
		"-show_entries", "stream=nb_read_packets",
		"-of", "csv=p=0",
		path,
	)
	output, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("ffprobe: %w", err)
	}
	return parseFrameCount(string(output))
}

func parseFrameCount(output string) (int, error) {
	field := strings.TrimSpace(output)
	if i := strings.IndexAny(field, ",\n"); i >= 0 {
		field = strings.TrimSpace(field[:i])
	}
	if field == "" || field == "N/A" {
		return 0, ErrEmptySource
	}
	count, err := strconv.Atoi(field)
	if err != nil {
		return 0, fmt.Errorf("parse frame count: %w", err)
	}
	if count <= 0 {
		return 0, ErrEmptySource
	}
	return count, nil
}

// ReadFrame seeks to a single frame number and decodes it as PNG from ffmpeg's
// stdout.
func (r *FFmpegReader) ReadFrame(ctx context.Context, path string, index int) (image.Image, error) {
	cmd := exec.CommandContext(ctx, r.ffmpegPath,
		"-v", "error",
		"-i", path,
		"-vf", fmt.Sprintf(`select=eq(n\,%d)`, index),
		"-vframes", "1",
		"-f", "image2pipe",
		"-vcodec", "png",
		"-",
	)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg error: %w, output: %s", err, strings.TrimSpace(stderr.String()))
	}
	if len(output) == 0 {
		return nil, fmt.Errorf("frame %d not decodable", index)
	}

	img, err := png.Decode(bytes.NewReader(output))
	if err != nil {
		return nil, fmt.Errorf("decode frame %d: %w", index, err)
	}
	return img, nil
}
