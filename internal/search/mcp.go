package search

import (
	"context"
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/Lllllllleong/pagesearch/internal/models"
)

type searcher interface {
	Search(ctx context.Context, q Query) ([]models.SearchHit, error)
}

// NewMCPServer exposes the engine as the "search_pages" tool.
func NewMCPServer(engine searcher, version string) *server.MCPServer {
	tool := mcp.NewTool("search_pages",
		mcp.WithDescription("Fuzzy search over the words of processed document pages. Returns the best matching pages with their best matching words."),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("Search query"),
		),
		mcp.WithNumber("top_documents",
			mcp.Description("Number of pages to return"),
		),
		mcp.WithNumber("top_words",
			mcp.Description("Number of matching words to return per page"),
		))

	srv := server.NewMCPServer("pagesearch", version, server.WithToolCapabilities(false))
	srv.AddTool(tool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		q, err := request.RequireString("query")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		hits, err := engine.Search(ctx, Query{
			Text:         q,
			TopDocuments: request.GetInt("top_documents", 0),
			TopWords:     request.GetInt("top_words", 0),
		})
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		raw, err := json.Marshal(models.SearchResponse{Query: q, Results: hits})
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText(string(raw)), nil
	})

	return srv
}
