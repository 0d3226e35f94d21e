package extract

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"testing"

	"cloud.google.com/go/vertexai/genai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lllllllleong/pagesearch/internal/models"
)

func Test_Router_DispatchesByKind(t *testing.T) {
	var got models.ContentKind
	r := NewRouter().
		Handle(models.KindPDF, Func(func(ctx context.Context, data []byte, kind models.ContentKind) ([]string, error) {
			got = kind
			return []string{"pdf"}, nil
		})).
		Handle(models.KindDocument, Func(func(ctx context.Context, data []byte, kind models.ContentKind) ([]string, error) {
			return []string{"doc"}, nil
		}))

	words, err := r.Extract(context.Background(), []byte("x"), models.KindPDF)
	require.NoError(t, err)
	assert.Equal(t, []string{"pdf"}, words)
	assert.Equal(t, models.KindPDF, got)

	assert.True(t, r.Handles(models.KindDocument))
	assert.False(t, r.Handles(models.KindImage))

	_, err = r.Extract(context.Background(), []byte("x"), models.KindImage)
	assert.ErrorIs(t, err, models.ErrExtractionFailed)
}

func Test_FlattenLayout(t *testing.T) {
	raw := "```json\n" + `{"pages":[
		{"blocks":[
			{"lines":[{"words":["Bill","of"]},{"words":["Lading"]}]},
			{"lines":[{"words":["of"," "]}]}
		]},
		{"blocks":[]},
		{"blocks":[{"lines":[{"words":["Page","2"]}]}]}
	]}` + "\n```"

	words, err := FlattenLayout(raw)
	require.NoError(t, err)
	assert.Equal(t, []string{"Bill", "of", "Lading", "of", "Page", "2"}, words)
}

func Test_FlattenLayout_EmptyAndMalformed(t *testing.T) {
	words, err := FlattenLayout(`{"pages":[{"blocks":[]}]}`)
	require.NoError(t, err)
	assert.Nil(t, words)

	_, err = FlattenLayout("I cannot read this")
	assert.ErrorIs(t, err, models.ErrExtractionFailed)
}

type fakeGenerator struct {
	reply string
	err   error
	parts []genai.Part
}

func (g *fakeGenerator) GenerateContent(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error) {
	g.parts = parts
	if g.err != nil {
		return nil, g.err
	}
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Parts: []genai.Part{genai.Text(g.reply)}},
		}},
	}, nil
}

func Test_Vertex_Extract(t *testing.T) {
	gen := &fakeGenerator{reply: `{"pages":[{"blocks":[{"lines":[{"words":["apple","banana"]}]}]}]}`}
	v := NewVertexWithModel(gen, nil)

	words, err := v.Extract(context.Background(), []byte("%PDF-1.7"), models.KindPDF)
	require.NoError(t, err)
	assert.Equal(t, []string{"apple", "banana"}, words)

	require.Len(t, gen.parts, 2)
	blob, ok := gen.parts[0].(genai.Blob)
	require.True(t, ok)
	assert.Equal(t, "application/pdf", blob.MIMEType)
}

func Test_Vertex_Failures(t *testing.T) {
	cases := map[string]*fakeGenerator{
		"call error": {err: errors.New("quota")},
		"refusal":    {reply: "As a large language model I cannot read this."},
		"empty":      {reply: ""},
	}
	for name, gen := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := NewVertexWithModel(gen, nil).Extract(context.Background(), []byte("%PDF"), models.KindPDF)
			assert.ErrorIs(t, err, models.ErrExtractionFailed)
		})
	}
}

func Test_Docconv_PlainText(t *testing.T) {
	words, err := NewDocconv().Extract(context.Background(), []byte("packing  list\n\tpallet 7"), models.KindDocument)
	require.NoError(t, err)
	assert.Equal(t, []string{"packing", "list", "pallet", "7"}, words)
}

func Test_SniffDocument(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	_, err := zw.Create("word/document.xml")
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	assert.Equal(t, "application/vnd.openxmlformats-officedocument.wordprocessingml.document", SniffDocument(buf.Bytes()))
	assert.Equal(t, "application/rtf", SniffDocument([]byte(`{\rtf1\ansi hello}`)))
	assert.Equal(t, "text/html", SniffDocument([]byte("<html><body>hi</body></html>")))
	assert.Equal(t, "text/plain", SniffDocument([]byte("just words")))
}

func Test_Words(t *testing.T) {
	assert.Nil(t, Words("  \n "))
	assert.Equal(t, []string{"a", "b"}, Words(" a\tb "))
}
