package generate

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
	"google.golang.org/genai"
)

// DefaultImageModel is the Gemini model used for artifact rendering.
// Overridable via GEMINI_IMAGE_MODEL.
const DefaultImageModel = "gemini-3-pro-image-preview"

// Gemini renders artifacts with the Gemini image model and writes
// them to local files under outDir. The returned artifact reference
// is the file path.
type Gemini struct {
	client *genai.Client
	model  string
	outDir string
}

// Compile-time interface check.
var _ Generator = (*Gemini)(nil)

// NewGemini creates a Gemini-backed generator. model may be empty to
// use DefaultImageModel; outDir may be empty to use the system temp
// directory.
func NewGemini(client *genai.Client, model, outDir string) *Gemini {
	if model == "" {
		model = DefaultImageModel
	}
	if outDir == "" {
		outDir = os.TempDir()
	}
	return &Gemini{client: client, model: model, outDir: outDir}
}

func (g *Gemini) Generate(ctx context.Context, prompt string, watermark bool) (string, error) {
	start := time.Now()
	log.Debug().
		Str("model", g.model).
		Bool("watermark", watermark).
		Int("prompt_len", len(prompt)).
		Msg("Starting image generation")

	contents := []*genai.Content{
		{Role: "user", Parts: []*genai.Part{{Text: prompt}}},
	}
	config := &genai.GenerateContentConfig{
		ResponseModalities: []string{"IMAGE", "TEXT"},
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, config)
	if err != nil {
		log.Error().Err(err).Str("model", g.model).Msg("Gemini image call failed")
		return "", failed("image model call", err)
	}

	data, mimeType := firstImage(resp)
	if data == nil {
		return "", failed("no image in model response", nil)
	}

	if watermark {
		stamped, err := Stamp(data)
		if err != nil {
			return "", failed("watermark", err)
		}
		data = stamped
	}

	ref, err := g.writeArtifact(data, mimeType, watermark)
	if err != nil {
		return "", failed("write artifact", err)
	}

	log.Info().
		Str("ref", ref).
		Bool("watermark", watermark).
		Int("bytes", len(data)).
		Dur("elapsed", time.Since(start)).
		Msg("Artifact generated")
	return ref, nil
}

// firstImage extracts the first inline image from a model response.
func firstImage(resp *genai.GenerateContentResponse) ([]byte, string) {
	if resp == nil {
		return nil, ""
	}
	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if part.InlineData != nil && len(part.InlineData.Data) > 0 {
				return part.InlineData.Data, part.InlineData.MIMEType
			}
		}
	}
	return nil, ""
}

// writeArtifact persists artifact bytes to a uniquely named file and
// returns its path. Watermarked previews always come out of Stamp as
// JPEG; finals keep the model's MIME type.
func (g *Gemini) writeArtifact(data []byte, mimeType string, watermark bool) (string, error) {
	ext := ".jpg"
	if !watermark && mimeType == "image/png" {
		ext = ".png"
	}

	f, err := os.CreateTemp(g.outDir, "artifact-*"+ext)
	if err != nil {
		return "", fmt.Errorf("create artifact file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("write artifact file: %w", err)
	}
	return filepath.Clean(f.Name()), nil
}
