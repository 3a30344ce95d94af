package collaborators

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"google.golang.org/genai"

	"github.com/snappy-loop/videosynth/internal/models"
)

// GenaiVisualProvider acquires a scene's background visual by generating
// one with the same genai client used for narration, in the teacher's
// strict-modality style (GenerateImage/generateImageGenai): no fallback
// to a second model, only to a local placeholder frame when the call
// itself fails or no client is configured. The result is always a still
// image; SourceStockVideo is accepted as a preference but, absent a real
// stock-footage integration in scope, degrades to the same still.
type GenaiVisualProvider struct {
	client      *genai.Client
	imageModel  string
	scratchRoot string
}

// NewGenaiVisualProvider wraps a genai client for image generation.
func NewGenaiVisualProvider(client *genai.Client, imageModel, scratchRoot string) *GenaiVisualProvider {
	return &GenaiVisualProvider{client: client, imageModel: imageModel, scratchRoot: scratchRoot}
}

// Acquire implements AssetProvider.
func (p *GenaiVisualProvider) Acquire(ctx context.Context, sceneText string, preference models.SourceType) (string, error) {
	var data []byte
	if p.client != nil {
		generated, err := p.generate(ctx, sceneText)
		if err != nil {
			log.Warn().Err(err).Msg("visual generation failed, writing placeholder frame")
		} else {
			data = generated
		}
	}
	if data == nil {
		var err error
		data, err = placeholderFrame()
		if err != nil {
			return "", err
		}
	}

	path := filepath.Join(p.scratchRoot, fmt.Sprintf("visual-%s.png", uuid.NewString()))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create scratch dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write visual: %w", err)
	}
	return path, nil
}

func (p *GenaiVisualProvider) generate(ctx context.Context, prompt string) ([]byte, error) {
	contents := []*genai.Content{
		{Role: "user", Parts: []*genai.Part{genai.NewPartFromText(prompt)}},
	}
	config := &genai.GenerateContentConfig{ResponseModalities: []string{"IMAGE"}}

	resp, err := p.client.Models.GenerateContent(ctx, p.imageModel, contents, config)
	if err != nil {
		return nil, err
	}
	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if part.InlineData != nil && len(part.InlineData.Data) > 0 {
				return part.InlineData.Data, nil
			}
		}
	}
	return nil, fmt.Errorf("no image data in response")
}

// placeholderFrame renders a single flat-gray still frame, the
// credential-free fallback. Uses stdlib image/png: no pack library draws
// synthetic raster frames, so this one concern is justified on stdlib.
func placeholderFrame() ([]byte, error) {
	return solidFramePNG(1920, 1080)
}

// PlaceholderThumbnail renders the fixed solid-color 640x360 thumbnail the
// Thumbnail stage falls back to when frame extraction fails.
func PlaceholderThumbnail() ([]byte, error) {
	return solidFramePNG(640, 360)
}

func solidFramePNG(w, h int) ([]byte, error) {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	gray := color.RGBA{R: 40, G: 40, B: 48, A: 255}
	for y := 0; y < img.Bounds().Dy(); y++ {
		for x := 0; x < img.Bounds().Dx(); x++ {
			img.Set(x, y, gray)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
