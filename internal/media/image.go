package media

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/eleven-am/vision-chat/internal/sampler"

	_ "image/gif"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

const jpegQuality = 80

var (
	imageExtensions = map[string]bool{".png": true, ".jpg": true, ".jpeg": true, ".bmp": true, ".gif": true, ".webp": true}
	videoExtensions = map[string]bool{".mp4": true, ".avi": true, ".mov": true, ".mkv": true, ".webm": true}
)

func KindOf(name string) (Kind, error) {
	ext := strings.ToLower(filepath.Ext(name))
	switch {
	case imageExtensions[ext]:
		return KindImage, nil
	case videoExtensions[ext]:
		return KindVideo, nil
	default:
		return "", fmt.Errorf("unsupported media type: %q", ext)
	}
}

func LoadImage(path string, scale float64) (*Input, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open image: %w", err)
	}
	defer f.Close()

	return DecodeImage(f, filepath.Base(path), scale)
}

func DecodeImage(r io.Reader, source string, scale float64) (*Input, error) {
	img, _, err := image.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}

	img, err = sampler.Rescale(img, scale)
	if err != nil {
		return nil, err
	}

	return &Input{
		Kind:        KindImage,
		Source:      source,
		SourceCount: 1,
		Frames:      []Frame{NewFrame(0, img)},
	}, nil
}

func EncodeJPEG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, fmt.Errorf("jpeg encode: %w", err)
	}
	return buf.Bytes(), nil
}

func EncodeBase64(images []image.Image) ([]string, error) {
	encoded := make([]string, 0, len(images))
	for _, img := range images {
		data, err := EncodeJPEG(img)
		if err != nil {
			return nil, err
		}
		encoded = append(encoded, base64.StdEncoding.EncodeToString(data))
	}
	return encoded, nil
}
