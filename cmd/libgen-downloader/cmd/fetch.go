package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gosuri/uilive"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"go-libgen-download/index"
	"go-libgen-download/internal/fetcher"
	"go-libgen-download/internal/mirror"
	"go-libgen-download/internal/models"
	"go-libgen-download/internal/pipeline"
)

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Search the catalog and download matching books",
	Long: `Searches the catalog for each given query, records every discovered
entry, then resolves a working mirror and downloads each entry that has not
been fetched before. Re-running the same queries is safe: entries already
fetched are skipped.`,
	RunE: runFetch,
}

func init() {
	rootCmd.AddCommand(fetchCmd)

	fetchCmd.Flags().StringSliceP("query", "q", nil, "Search query (repeatable)")
	fetchCmd.Flags().StringP("column", "c", models.SearchByTitle, "Search column: title, author, isbn or publisher")
	fetchCmd.Flags().String("batch-file", "", "File with one query per line, processed after --query values")
	fetchCmd.Flags().Int("max-results", 0, "Maximum entries taken per query (0 uses config value)")
	fetchCmd.Flags().Bool("no-download", false, "Only discover and record entries, do not download")
	fetchCmd.Flags().Bool("enrich", false, "Fetch each entry's detail page for description/ISBN/cover")
	fetchCmd.Flags().Int("size-limit-mb", 0, "Per-file size limit in MB (0 uses config value)")

	viper.BindPFlag("fetch.max_results", fetchCmd.Flags().Lookup("max-results"))
	viper.BindPFlag("fetch.no_download", fetchCmd.Flags().Lookup("no-download"))
	viper.BindPFlag("fetch.enrich", fetchCmd.Flags().Lookup("enrich"))
	viper.BindPFlag("fetch.size_limit_mb", fetchCmd.Flags().Lookup("size-limit-mb"))
}

func runFetch(cmd *cobra.Command, args []string) error {
	queries, _ := cmd.Flags().GetStringSlice("query")
	column, _ := cmd.Flags().GetString("column")
	batchFile, _ := cmd.Flags().GetString("batch-file")

	if !models.ValidSearchColumn(column) {
		return fmt.Errorf("invalid search column %q", column)
	}

	if batchFile != "" {
		fromFile, err := readQueryFile(batchFile)
		if err != nil {
			return err
		}
		queries = append(queries, fromFile...)
	}
	if len(queries) == 0 {
		return fmt.Errorf("no queries given; use --query or --batch-file")
	}

	if globalConfig.DownloadDir == "" {
		return fmt.Errorf("download directory is not set in the configuration")
	}

	st, err := openStore()
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer st.Close()

	maxResults := viper.GetInt("fetch.max_results")
	if maxResults <= 0 {
		maxResults = globalConfig.MaxResults
	}
	sizeLimitMB := viper.GetInt("fetch.size_limit_mb")
	if sizeLimitMB <= 0 {
		sizeLimitMB = globalConfig.SizeLimitMB
	}

	client := newCatalogClient()
	f := fetcher.NewFetcher(client, globalConfig.DownloadDir, int64(sizeLimitMB)*1024*1024)

	progress := uilive.New()
	progress.Start()
	defer progress.Stop()
	f.Progress = progress

	p := pipeline.New(client, mirror.NewResolver(client, globalConfig.DirectHosts), f, st)
	p.MaxResults = maxResults
	p.MaxAttempts = globalConfig.MaxAttempts
	p.QueryPause = time.Duration(globalConfig.QueryPauseSec) * time.Second
	p.NoDownload = viper.GetBool("fetch.no_download")
	p.EnrichEntries = viper.GetBool("fetch.enrich") || globalConfig.EnrichEntries
	p.Progress = progress

	if globalConfig.BleveIndexPath != "" && !p.NoDownload {
		idx, err := index.OpenOrCreateIndex(globalConfig.BleveIndexPath)
		if err != nil {
			log.WithError(err).Warn("Cannot open search index, continuing without indexing")
		} else {
			defer idx.Close()
			p.Index = idx
		}
	}

	requests := make([]models.SearchRequest, 0, len(queries))
	for _, q := range queries {
		requests = append(requests, models.SearchRequest{Query: q, Column: column})
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	summary, err := p.Run(ctx, requests)
	fmt.Printf("\nRun summary: %d discovered, %d fetched, %d failed, %d skipped\n",
		summary.Discovered, summary.Fetched, summary.Failed, summary.Skipped)
	if err != nil {
		return fmt.Errorf("batch run aborted: %w", err)
	}
	return nil
}

// readQueryFile reads one query per line; blank lines and #-comments are
// skipped.
func readQueryFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening batch file: %w", err)
	}
	defer f.Close()

	var queries []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		queries = append(queries, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading batch file: %w", err)
	}
	return queries, nil
}
