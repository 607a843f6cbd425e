package cmd

import (
	"context"
	"fmt"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"go-libgen-download/internal/models"
	"go-libgen-download/internal/publish"
)

var publishCmd = &cobra.Command{
	Use:   "publish",
	Short: "Publish fetched books to the configured WordPress site",
	Long: `Creates one draft post per fetched record on the configured WordPress
site. Records that already carry a post id are never published twice.`,
	RunE: runPublish,
}

func init() {
	rootCmd.AddCommand(publishCmd)
	publishCmd.Flags().Bool("dry-run", false, "List what would be published without posting")
	publishCmd.Flags().StringSlice("id", nil, "Only publish these external ids")
}

func runPublish(cmd *cobra.Command, args []string) error {
	if globalConfig.PublishURL == "" || globalConfig.PublishUser == "" {
		return fmt.Errorf("publish_url and publish_user must be set in the configuration")
	}

	dryRun, _ := cmd.Flags().GetBool("dry-run")
	onlyIDs, _ := cmd.Flags().GetStringSlice("id")
	idFilter := make(map[string]struct{}, len(onlyIDs))
	for _, id := range onlyIDs {
		idFilter[id] = struct{}{}
	}

	st, err := openStore()
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer st.Close()

	client := publish.NewClient(
		globalConfig.PublishURL,
		globalConfig.PublishUser,
		globalConfig.PublishPassword,
		&http.Client{Transport: globalHttpTransport, Timeout: 30 * time.Second},
	)

	ctx := context.Background()
	if !dryRun {
		if err := client.TestConnection(ctx); err != nil {
			return fmt.Errorf("cannot reach WordPress site: %w", err)
		}
	}

	fetched, err := st.ListByStatus(models.StatusFetched)
	if err != nil {
		return fmt.Errorf("scanning database: %w", err)
	}

	var published, skipped, failed int
	for _, rec := range fetched {
		id := rec.Entry.ExternalID
		if len(idFilter) > 0 {
			if _, wanted := idFilter[id]; !wanted {
				continue
			}
		}
		if rec.PublishID != 0 {
			log.WithFields(log.Fields{"id": id, "post": rec.PublishID}).Debug("Already published, skipping")
			skipped++
			continue
		}

		if dryRun {
			fmt.Printf("would publish %s  %s\n", id, rec.Entry.Title)
			published++
			continue
		}

		postID, err := client.CreateBookPost(ctx, rec)
		if err != nil {
			log.WithError(err).Errorf("Publishing record %s failed", id)
			failed++
			continue
		}
		if err := st.MarkPublished(id, postID); err != nil {
			// The post exists but we could not record it; surface loudly so
			// the operator can reconcile before the next run double-posts.
			return fmt.Errorf("post %d created but not recorded for %s: %w", postID, id, err)
		}
		published++
	}

	log.Infof("Publish complete: %d published, %d skipped, %d failed", published, skipped, failed)
	if failed > 0 {
		return fmt.Errorf("%d record(s) failed to publish", failed)
	}
	return nil
}
