package generator

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	openai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"auto_xhs_publisher/apperr"
)

// OpenAIImage implements ImageClient on the images/generations endpoint.
// Vendors answer either with b64_json or with a URL; both are handled.
type OpenAIImage struct {
	Model  string
	Opts   []option.RequestOption
	client *http.Client
}

func NewOpenAIImageFromConfig(cfg *ImageSettings, extra ...option.RequestOption) (*OpenAIImage, error) {
	if cfg == nil {
		return nil, errors.New("image config is nil")
	}
	if cfg.APIKey == "" {
		return nil, errors.New("image api key missing; provide image.api_key")
	}
	if cfg.Model == "" {
		return nil, errors.New("image model is required")
	}
	if cfg.BaseURL == "" {
		return nil, errors.New("image base_url is required")
	}
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithBaseURL(cfg.BaseURL),
		option.WithMaxRetries(0),
		option.WithRequestTimeout(180 * time.Second),
	}
	opts = append(opts, extra...)
	return &OpenAIImage{
		Model:  cfg.Model,
		Opts:   opts,
		client: &http.Client{Timeout: 60 * time.Second},
	}, nil
}

func (o *OpenAIImage) Generate(ctx context.Context, prompt, size string) ([]byte, error) {
	const op = "image.Generate"
	if strings.TrimSpace(prompt) == "" {
		return nil, apperr.Errorf(apperr.KindValidation, op, "empty image prompt")
	}
	if size == "" {
		size = DefaultImageSize
	}
	client := openai.NewClient(o.Opts...)

	resp, err := client.Images.Generate(ctx, openai.ImageGenerateParams{
		Prompt: prompt,
		Model:  openai.ImageModel(o.Model),
		Size:   openai.ImageGenerateParamsSize(size),
		N:      openai.Int(1),
	})
	if err != nil {
		return nil, classify(op, err)
	}
	if len(resp.Data) == 0 {
		return nil, apperr.Errorf(apperr.KindProvider, op, "empty image data")
	}

	img := resp.Data[0]
	if img.B64JSON != "" {
		data, err := base64.StdEncoding.DecodeString(img.B64JSON)
		if err != nil {
			return nil, apperr.E(apperr.KindProvider, op, fmt.Errorf("decode b64_json: %w", err))
		}
		return data, nil
	}
	if img.URL == "" {
		return nil, apperr.Errorf(apperr.KindProvider, op, "response has neither b64_json nor url")
	}
	return o.download(ctx, img.URL)
}

func (o *OpenAIImage) download(ctx context.Context, url string) ([]byte, error) {
	const op = "image.download"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, apperr.E(apperr.KindProvider, op, err)
	}
	resp, err := o.client.Do(req)
	if err != nil {
		return nil, classify(op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, apperr.E(kindForStatus(resp.StatusCode), op, fmt.Errorf("download %s: HTTP %d", url, resp.StatusCode))
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classify(op, err)
	}
	if len(data) == 0 {
		return nil, apperr.Errorf(apperr.KindProvider, op, "downloaded image is empty")
	}
	return data, nil
}
