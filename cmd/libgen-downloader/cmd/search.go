package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"go-libgen-download/index"
)

var searchCmd = &cobra.Command{
	Use:   "search [QUERY]",
	Short: "Search the local index of fetched books",
	Long: `Runs a full-text query against the local search index. The query uses
bleve query-string syntax, so field-scoped terms like '+author:knuth' or
'+format:epub' work alongside free text.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSearch,
}

func init() {
	rootCmd.AddCommand(searchCmd)
	searchCmd.Flags().IntP("limit", "n", 10, "Maximum number of hits to print")
}

func runSearch(cmd *cobra.Command, args []string) error {
	if globalConfig.BleveIndexPath == "" {
		return fmt.Errorf("bleve index path is not set in the configuration")
	}

	idx, err := index.OpenOrCreateIndex(globalConfig.BleveIndexPath)
	if err != nil {
		return fmt.Errorf("opening index: %w", err)
	}
	defer idx.Close()

	limit, _ := cmd.Flags().GetInt("limit")
	results, err := index.SearchIndex(idx, strings.Join(args, " "))
	if err != nil {
		return fmt.Errorf("searching index: %w", err)
	}

	fmt.Printf("%d match(es) in %s\n\n", results.Total, results.Took)
	for i, hit := range results.Hits {
		if i >= limit {
			fmt.Printf("... and %d more\n", int(results.Total)-limit)
			break
		}
		title, _ := hit.Fields["title"].(string)
		author, _ := hit.Fields["author"].(string)
		filePath, _ := hit.Fields["filePath"].(string)
		fmt.Printf("%s  %s", hit.ID, title)
		if author != "" {
			fmt.Printf(" - %s", author)
		}
		fmt.Println()
		if filePath != "" {
			fmt.Printf("    %s\n", filePath)
		}
	}
	return nil
}
