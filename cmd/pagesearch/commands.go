package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/Lllllllleong/pagesearch/internal/models"
	"github.com/Lllllllleong/pagesearch/internal/search"
	"github.com/Lllllllleong/pagesearch/internal/services"
)

type ingestUnit struct {
	Key   string `json:"key"`
	Page  int    `json:"page_index"`
	Error string `json:"error,omitempty"`
}

type ingestDoc struct {
	File  string       `json:"file"`
	RunID string       `json:"run_id"`
	Units []ingestUnit `json:"units"`
}

func newIngestCmd() *cobra.Command {
	var (
		category string
		notes    string
		kind     string
		replace  bool
	)
	cmd := &cobra.Command{
		Use:   "ingest <file>...",
		Short: "Split documents into pages and register them for processing",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cat, err := models.ParseCategory(category)
			if err != nil {
				return err
			}
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			var (
				out    []ingestDoc
				failed bool
			)
			ing := a.Ingestor()
			for _, path := range args {
				data, err := os.ReadFile(path)
				if err != nil {
					return err
				}
				res, err := ing.Ingest(cmd.Context(), services.IngestRequest{
					FileName: filepath.Base(path),
					Data:     data,
					Category: cat,
					Notes:    notes,
					Kind:     models.ContentKind(kind),
					Replace:  replace,
				}, progressLine("ingesting "+filepath.Base(path)))

				doc := ingestDoc{File: path, RunID: res.RunID}
				for _, u := range res.Units {
					iu := ingestUnit{Key: u.Key, Page: u.PageIndex}
					if u.Err != nil {
						iu.Error = u.Err.Error()
						failed = true
					}
					doc.Units = append(doc.Units, iu)
				}
				out = append(out, doc)
				if err != nil {
					printIngest(out)
					return err
				}
			}
			printIngest(out)
			if failed {
				return errors.New("some pages were not ingested")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&category, "category", "", "Shipping, ExperimentMetadata or Other")
	cmd.Flags().StringVar(&notes, "notes", "", "Free-text notes stored with every page")
	cmd.Flags().StringVar(&kind, "kind", "", "pdf, image or document (default: from the file extension)")
	cmd.Flags().BoolVar(&replace, "replace", false, "Replace pages that were already ingested")
	_ = cmd.MarkFlagRequired("category")
	return cmd
}

func printIngest(docs []ingestDoc) {
	if jsonOutput {
		printJSON(docs)
		return
	}
	for _, d := range docs {
		for _, u := range d.Units {
			if u.Error != "" {
				fmt.Printf("%s\tpage %d\tFAILED: %s\n", u.Key, u.Page, u.Error)
			} else {
				fmt.Printf("%s\tpage %d\tpending\n", u.Key, u.Page)
			}
		}
	}
}

func newProcessCmd() *cobra.Command {
	var (
		workers     int
		retryFailed bool
	)
	cmd := &cobra.Command{
		Use:   "process",
		Short: "Extract words from every pending page",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			p := a.Processor(workers)
			res := models.ProcessResponse{Status: "success"}
			if retryFailed {
				if res.Retried, err = p.RetryFailed(cmd.Context()); err != nil {
					return err
				}
			}
			summary, err := p.Run(cmd.Context(), progressLine("processing"))
			res.RunID = summary.RunID
			res.Total = summary.Total
			res.Succeeded = summary.Succeeded
			res.Failed = summary.Failed
			res.Skipped = summary.Skipped
			if err != nil {
				res.Status = "aborted"
			}

			if jsonOutput {
				printJSON(res)
			} else {
				if retryFailed {
					fmt.Printf("Reset %d failed pages to pending\n", res.Retried)
				}
				fmt.Printf("Processed %d of %d pages: %d succeeded, %d failed, %d skipped\n",
					res.Succeeded+res.Failed+res.Skipped, res.Total, res.Succeeded, res.Failed, res.Skipped)
			}
			return err
		},
	}
	cmd.Flags().IntVarP(&workers, "workers", "w", 0, "Pages processed in parallel (default: from config)")
	cmd.Flags().BoolVar(&retryFailed, "retry-failed", false, "Move failed pages back to pending first")
	return cmd
}

func newImportCmd() *cobra.Command {
	var watch bool
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Merge externally extracted word lists into the store",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			summary, err := a.Importer().ImportAll(cmd.Context(), progressLine("importing"))
			if err != nil {
				return err
			}
			res := models.ImportResponse{
				Status:     "success",
				Total:      summary.Total,
				Imported:   summary.Imported,
				Mismatched: summary.Mismatched,
				Failed:     summary.Failed,
			}
			if jsonOutput {
				printJSON(res)
			} else {
				fmt.Printf("Imported %d of %d units: %d mismatched, %d failed\n",
					res.Imported, res.Total, res.Mismatched, res.Failed)
			}

			if !watch {
				return nil
			}
			w, err := a.ImportWatcher()
			if err != nil {
				return err
			}
			if err := w.Watch(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(os.Stderr, "Watching for new import units. Press Ctrl+C to stop.")
			<-cmd.Context().Done()
			return nil
		},
	}
	cmd.Flags().BoolVar(&watch, "watch", false, "Keep running and import new units as they arrive")
	return cmd
}

func newSearchCmd() *cobra.Command {
	var top, matches int
	cmd := &cobra.Command{
		Use:   "search <query>...",
		Short: "Rank processed pages against a fuzzy query",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			q := strings.Join(args, " ")
			hits, err := a.SearchEngine().Search(cmd.Context(), search.Query{Text: q, TopDocuments: top, TopWords: matches})
			if err != nil {
				return err
			}
			if jsonOutput {
				printJSON(models.SearchResponse{Query: q, Results: hits})
				return nil
			}
			if len(hits) == 0 {
				fmt.Println("No matching pages")
				return nil
			}
			for i, h := range hits {
				fmt.Printf("%d. %s (score %d, %s)\n", i+1, h.FileName, h.Score, h.Category)
				if h.Notes != "" {
					fmt.Printf("   notes: %s\n", h.Notes)
				}
				for _, m := range h.Matches {
					fmt.Printf("   %3d  %s\n", m.Score, m.Word)
				}
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&top, "top", "n", 0, "Number of pages to return (default: from config)")
	cmd.Flags().IntVarP(&matches, "matches", "k", 0, "Matching words shown per page (default: from config)")
	return cmd
}

func newListCmd() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List page records",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			var recs []models.PageRecord
			if status == "" {
				recs, err = a.Store.ListAll(cmd.Context())
			} else {
				st, perr := models.ParseStatus(status)
				if perr != nil {
					return perr
				}
				recs, err = a.Store.ListByStatus(cmd.Context(), st)
			}
			if err != nil {
				return err
			}

			if jsonOutput {
				printJSON(recs)
				return nil
			}
			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "KEY\tPAGE\tCATEGORY\tSTATUS\tWORDS\tINGESTED\tERROR")
			for _, r := range recs {
				fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%d\t%s\t%s\n",
					r.Key, r.PageIndex, r.Category, r.Status, len(r.Words),
					r.IngestedAt.Format("2006-01-02 15:04:05"), r.LastError)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVarP(&status, "status", "s", "", "Only show Pending, Processed or Failed pages")
	return cmd
}

func newGetCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "get <file_name>",
		Short: "Download a stored page by the file name search shows",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			name := args[0]
			data, err := a.PageFetcher().Fetch(cmd.Context(), name)
			if errors.Is(err, models.ErrNotFound) {
				return fmt.Errorf("file %s not found", name)
			}
			if err != nil {
				return err
			}

			if out == "-" {
				_, err := os.Stdout.Write(data)
				return err
			}
			if out == "" {
				out = filepath.Base(name)
			}
			if err := os.WriteFile(out, data, 0o644); err != nil {
				return err
			}
			if jsonOutput {
				printJSON(map[string]any{"file": name, "path": out, "bytes": len(data)})
			} else {
				fmt.Printf("Saved %s to %s (%d bytes)\n", name, out, len(data))
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "output", "o", "", "Output path, or - for stdout (default: the file name)")
	return cmd
}

func newServeCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the search_pages tool over MCP (SSE)",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			if addr == "" {
				addr = a.Config.ServerAddr
			}
			srv := search.NewMCPServer(a.SearchEngine(), version)
			sse := server.NewSSEServer(srv, server.WithBaseURL(fmt.Sprintf("http://%s", addr)))

			go func() {
				<-cmd.Context().Done()
				_ = sse.Shutdown(context.Background())
			}()
			a.Logger.Info("Serving MCP search.", "addr", addr)
			if err := sse.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default: from config)")
	return cmd
}
