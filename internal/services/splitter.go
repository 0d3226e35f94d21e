package services

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// PageSplitter turns one multi-page document into one document per page.
type PageSplitter interface {
	Split(ctx context.Context, data []byte) ([][]byte, error)
}

// PDFSplitter splits PDFs with pdfcpu. Page content is copied as-is.
type PDFSplitter struct {
	logger *slog.Logger
}

func NewPDFSplitter(logger *slog.Logger) *PDFSplitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &PDFSplitter{logger: logger}
}

func relaxedConfig() *model.Configuration {
	cfg := model.NewDefaultConfiguration()
	cfg.ValidationMode = model.ValidationRelaxed
	return cfg
}

func (s *PDFSplitter) Split(ctx context.Context, data []byte) ([][]byte, error) {
	tempDir, err := os.MkdirTemp("", "pdf-splitter-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(tempDir)

	sourcePdfPath := filepath.Join(tempDir, "source.pdf")
	if err := os.WriteFile(sourcePdfPath, data, 0o600); err != nil {
		return nil, fmt.Errorf("failed to stage source PDF: %w", err)
	}

	cfg := relaxedConfig()
	if err := api.ValidateFile(sourcePdfPath, cfg); err != nil {
		return nil, fmt.Errorf("failed to validate PDF: %w", err)
	}
	pageCount, err := api.PageCountFile(sourcePdfPath)
	if err != nil {
		return nil, fmt.Errorf("failed to get page count: %w", err)
	}
	if pageCount == 0 {
		return nil, fmt.Errorf("PDF has no pages")
	}
	if err := api.SplitFile(sourcePdfPath, tempDir, 1, cfg); err != nil {
		return nil, fmt.Errorf("failed to split PDF: %w", err)
	}
	s.logger.Debug("PDF split locally.", "pageCount", pageCount)

	pages := make([][]byte, 0, pageCount)
	for i := 1; i <= pageCount; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page, err := os.ReadFile(filepath.Join(tempDir, fmt.Sprintf("source_%d.pdf", i)))
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", i, err)
		}
		pages = append(pages, page)
	}
	return pages, nil
}
