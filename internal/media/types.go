package media

import (
	"image"

	"github.com/eleven-am/vision-chat/internal/sampler"
)

type Kind string

const (
	KindImage Kind = "image"
	KindVideo Kind = "video"
)

const (
	DefaultImageQuestion = "Describe this image in detail."
	DefaultVideoQuestion = "Describe this video and how it changes over time."
)

var ErrEmptySource = sampler.ErrEmptySource

type Config struct {
	FFmpegPath  string
	FFprobePath string
	NumFrames   int
	Scale       float64
}

type Frame struct {
	Index  int
	Image  image.Image
	Width  int
	Height int
}

func NewFrame(index int, img image.Image) Frame {
	b := img.Bounds()
	return Frame{
		Index:  index,
		Image:  img,
		Width:  b.Dx(),
		Height: b.Dy(),
	}
}

// Input is a still image or the frames sampled from a video.
type Input struct {
	Kind        Kind
	Source      string
	SourceCount int
	Frames      []Frame
}

func (in *Input) Len() int {
	if in == nil {
		return 0
	}
	return len(in.Frames)
}

func (in *Input) Validate() error {
	if in.Len() == 0 {
		return ErrEmptySource
	}
	return nil
}

func (in *Input) Images() []image.Image {
	if in.Len() == 0 {
		return nil
	}
	images := make([]image.Image, 0, in.Len())
	for _, f := range in.Frames {
		images = append(images, f.Image)
	}
	return images
}

// Preview is the frame shown as a thumbnail: the middle sampled frame.
func (in *Input) Preview() (Frame, bool) {
	if in.Len() == 0 {
		return Frame{}, false
	}
	return in.Frames[in.Len()/2], true
}

func (in *Input) DefaultQuestion() string {
	if in != nil && in.Kind == KindVideo {
		return DefaultVideoQuestion
	}
	return DefaultImageQuestion
}

type Summary struct {
	Kind            Kind   `json:"kind"`
	Source          string `json:"source"`
	SourceFrames    int    `json:"source_frames"`
	SampledIndices  []int  `json:"sampled_indices"`
	Width           int    `json:"width"`
	Height          int    `json:"height"`
	PreviewIndex    int    `json:"preview_index"`
	DefaultQuestion string `json:"default_question"`
}

func (in *Input) Summary() Summary {
	s := Summary{
		Kind:            in.Kind,
		Source:          in.Source,
		SourceFrames:    in.SourceCount,
		SampledIndices:  make([]int, 0, in.Len()),
		DefaultQuestion: in.DefaultQuestion(),
	}
	for _, f := range in.Frames {
		s.SampledIndices = append(s.SampledIndices, f.Index)
	}
	if preview, ok := in.Preview(); ok {
		s.PreviewIndex = preview.Index
		s.Width = preview.Width
		s.Height = preview.Height
	}
	return s
}
