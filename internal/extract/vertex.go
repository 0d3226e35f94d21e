package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"cloud.google.com/go/vertexai/genai"

	"github.com/Lllllllleong/pagesearch/internal/gcp"
	"github.com/Lllllllleong/pagesearch/internal/models"
)

// Generator is the slice of *genai.GenerativeModel the extractor calls.
type Generator interface {
	GenerateContent(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error)
}

// Vertex reads pages with a Gemini model. The page bytes travel inline and
// the model answers with a pages/blocks/lines/words layout.
type Vertex struct {
	model  Generator
	logger *slog.Logger
}

func NewVertex(client *gcp.VertexClient, logger *slog.Logger) *Vertex {
	return NewVertexWithModel(client.ExtractorModel, logger)
}

func NewVertexWithModel(model Generator, logger *slog.Logger) *Vertex {
	if logger == nil {
		logger = slog.Default()
	}
	return &Vertex{model: model, logger: logger.With("extractor", "vertex")}
}

var refusalPhrases = []string{
	"i am unable to",
	"i cannot fulfill",
	"i cannot answer",
	"i cannot provide",
	"as a large language model",
}

func (v *Vertex) Extract(ctx context.Context, data []byte, kind models.ContentKind) ([]string, error) {
	if len(data) == 0 {
		return nil, Failed("empty %s page", kind)
	}
	mimeType := mimeTypeFor(kind, data)

	resp, err := v.model.GenerateContent(ctx,
		genai.Blob{MIMEType: mimeType, Data: data},
		genai.Text(gcp.ExtractorUserPrompt),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: generate content: %v", models.ErrExtractionFailed, err)
	}

	text := responseText(resp)
	if text == "" {
		return nil, Failed("model returned no content for %s page", kind)
	}
	lower := strings.ToLower(text)
	for _, phrase := range refusalPhrases {
		if strings.Contains(lower, phrase) {
			v.logger.Warn("Model refused the page.", "mimeType", mimeType, "response", text)
			return nil, Failed("model response indicates refusal")
		}
	}

	words, err := FlattenLayout(text)
	if err != nil {
		return nil, err
	}
	if len(words) == 0 {
		v.logger.Warn("No words found on page. Treating as empty page.", "mimeType", mimeType)
	}
	return words, nil
}

func mimeTypeFor(kind models.ContentKind, data []byte) string {
	if kind == models.KindPDF {
		return "application/pdf"
	}
	return strings.SplitN(http.DetectContentType(data), ";", 2)[0]
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			b.WriteString(string(txt))
		}
	}
	return strings.TrimSpace(b.String())
}

type layout struct {
	Pages []struct {
		Blocks []struct {
			Lines []struct {
				Words []string `json:"words"`
			} `json:"lines"`
		} `json:"blocks"`
	} `json:"pages"`
}

// FlattenLayout walks a layout document page by page, block by block and
// line by line, concatenating words. A markdown code fence around the JSON
// is tolerated.
func FlattenLayout(raw string) ([]string, error) {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")

	var doc layout
	if err := json.Unmarshal([]byte(strings.TrimSpace(s)), &doc); err != nil {
		return nil, fmt.Errorf("%w: malformed layout: %v", models.ErrExtractionFailed, err)
	}

	var words []string
	for _, p := range doc.Pages {
		for _, b := range p.Blocks {
			for _, l := range b.Lines {
				for _, w := range l.Words {
					if w = strings.TrimSpace(w); w != "" {
						words = append(words, w)
					}
				}
			}
		}
	}
	return words, nil
}
