package generator

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"auto_xhs_publisher/apperr"
)

// CoverWriter 由会话目录实现，负责把封面字节原子地写成 cover.<ext>。
type CoverWriter interface {
	WriteCover(data []byte, ext string) (string, error)
}

// ImageGenerator builds a cover prompt from the draft and asks ImageClient for the picture.
type ImageGenerator struct {
	client ImageClient
	size   string
}

func NewImageGenerator(client ImageClient, size string) (*ImageGenerator, error) {
	if client == nil {
		return nil, errors.New("image client is required")
	}
	if size == "" {
		size = DefaultImageSize
	}
	return &ImageGenerator{client: client, size: size}, nil
}

// CoverPrompt is deterministic for identical title and body.
func CoverPrompt(title, body string) string {
	var sb strings.Builder
	sb.WriteString("Xiaohongshu style cover photo, vertical-friendly square composition, bright natural light, ")
	sb.WriteString("soft pastel color palette, lifestyle aesthetic, high detail, no text, no watermark, no human faces. ")
	sb.WriteString("Subject: ")
	sb.WriteString(strings.TrimSpace(title))
	if s := summarize(body, 120); s != "" {
		sb.WriteString(". Scene details: ")
		sb.WriteString(s)
	}
	return sb.String()
}

// GenerateCover requests a cover and stores it through dst.
// Rate-limit and timeout failures keep their kind so callers can retry them;
// anything else becomes an image-generation error.
func (g *ImageGenerator) GenerateCover(ctx context.Context, dst CoverWriter, title, body string) (ImageAsset, error) {
	const op = "image.GenerateCover"
	if dst == nil {
		return ImageAsset{}, errors.New("cover writer is required")
	}
	prompt := CoverPrompt(title, body)

	data, err := g.client.Generate(ctx, prompt, g.size)
	if err != nil {
		if apperr.Retryable(err) {
			return ImageAsset{}, err
		}
		return ImageAsset{}, apperr.E(apperr.KindImageGeneration, op, err)
	}
	if len(data) == 0 {
		return ImageAsset{}, apperr.Errorf(apperr.KindImageGeneration, op, "empty image data")
	}

	ext := ImageExt(data)
	path, err := dst.WriteCover(data, ext)
	if err != nil {
		return ImageAsset{}, apperr.E(apperr.KindImageGeneration, op, fmt.Errorf("write cover: %w", err))
	}
	return ImageAsset{Path: path, Prompt: prompt}, nil
}

// ImageExt sniffs the file extension from image bytes, defaulting to png.
func ImageExt(data []byte) string {
	switch http.DetectContentType(data) {
	case "image/jpeg":
		return "jpg"
	case "image/gif":
		return "gif"
	case "image/webp":
		return "webp"
	default:
		return "png"
	}
}
