package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"go-libgen-download/internal/helpers"
	"go-libgen-download/internal/models"
	"go-libgen-download/internal/store"
)

// dbCmd represents the base command for database operations
var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Interact with the dedup database",
	Long:  `Perform operations like viewing or inspecting entries in the dedup database.`,
}

var dbViewCmd = &cobra.Command{
	Use:   "view",
	Short: "List book records stored in the database",
	Long:  `Lists the records the pipeline has discovered, with status, attempts and last error.`,
	RunE:  runDbView,
}

var dbGetCmd = &cobra.Command{
	Use:   "get [EXTERNAL_ID]",
	Short: "Print one record as JSON",
	Args:  cobra.ExactArgs(1),
	RunE:  runDbGet,
}

func init() {
	rootCmd.AddCommand(dbCmd)
	dbCmd.AddCommand(dbViewCmd)
	dbCmd.AddCommand(dbGetCmd)

	dbViewCmd.Flags().StringP("status", "s", "", "Only show records in this status (discovered, resolved, fetched, failed)")
}

func runDbView(cmd *cobra.Command, args []string) error {
	statusFilter, _ := cmd.Flags().GetString("status")

	st, err := openStore()
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer st.Close()

	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTitle\tAuthor\tFormat\tSize\tStatus\tAttempts\tLast Error")
	fmt.Fprintln(tw, "--\t-----\t------\t------\t----\t------\t--------\t----------")

	count := 0
	err = st.ForEach(func(rec models.DedupRecord) error {
		if statusFilter != "" && rec.Status != statusFilter {
			return nil
		}
		size := "-"
		if rec.Fetch != nil {
			size = helpers.BytesToSize(uint64(rec.Fetch.BytesWritten))
		} else if rec.Entry.SizeBytes != nil {
			size = helpers.BytesToSize(uint64(*rec.Entry.SizeBytes))
		}
		lastError := rec.LastError
		if len(lastError) > 60 {
			lastError = lastError[:57] + "..."
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
			rec.Entry.ExternalID, rec.Entry.Title, rec.Entry.Author,
			rec.Entry.Format, size, rec.Status, rec.AttemptCount, lastError)
		count++
		return nil
	})
	if err != nil {
		return fmt.Errorf("scanning database: %w", err)
	}

	if err := tw.Flush(); err != nil {
		log.WithError(err).Warn("Error flushing table output")
	}
	fmt.Printf("\n%d record(s)\n", count)
	return nil
}

func runDbGet(cmd *cobra.Command, args []string) error {
	st, err := openStore()
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer st.Close()

	rec, err := st.Get(args[0])
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("no record for id %s", args[0])
		}
		return err
	}

	out, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding record: %w", err)
	}
	fmt.Println(string(out))
	return nil
}
