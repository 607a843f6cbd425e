package cmd

import (
	"fmt"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"go-libgen-download/index"
	"go-libgen-download/internal/models"
)

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Manage the local search index",
}

var indexRebuildCmd = &cobra.Command{
	Use:   "rebuild",
	Short: "Rebuild the search index from the database",
	Long: `Deletes the existing index and re-indexes every fetched record from
the dedup database. Use after deleting the index directory or upgrading.`,
	RunE: runIndexRebuild,
}

func init() {
	rootCmd.AddCommand(indexCmd)
	indexCmd.AddCommand(indexRebuildCmd)
}

func runIndexRebuild(cmd *cobra.Command, args []string) error {
	if globalConfig.BleveIndexPath == "" {
		return fmt.Errorf("bleve index path is not set in the configuration")
	}

	st, err := openStore()
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer st.Close()

	if err := index.DeleteIndex(globalConfig.BleveIndexPath); err != nil {
		return fmt.Errorf("removing old index: %w", err)
	}
	idx, err := index.OpenOrCreateIndex(globalConfig.BleveIndexPath)
	if err != nil {
		return fmt.Errorf("creating index: %w", err)
	}
	defer idx.Close()

	var indexed, failed int
	err = st.ForEach(func(rec models.DedupRecord) error {
		if rec.Status != models.StatusFetched {
			return nil
		}
		if err := index.IndexItem(idx, index.FromRecord(rec)); err != nil {
			log.WithError(err).Warnf("Indexing record %s failed", rec.Entry.ExternalID)
			failed++
			return nil
		}
		indexed++
		return nil
	})
	if err != nil {
		return fmt.Errorf("scanning database: %w", err)
	}

	log.Infof("Index rebuild complete: %d record(s) indexed, %d failed", indexed, failed)
	return nil
}
