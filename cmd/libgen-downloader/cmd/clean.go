package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(cleanCmd)

	cleanCmd.Flags().BoolP("torrents", "t", false, "Also remove *.torrent files")
	cleanCmd.Flags().BoolP("magnets", "m", false, "Also remove *-magnet.txt files")
}

var cleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Remove temporary (.tmp) files from the download directory",
	Long: `Recursively scans the configured download directory and removes any
files left behind by interrupted downloads (ending in .tmp). Optionally
removes *.torrent and *-magnet.txt files as well.`,
	RunE: runClean,
}

func runClean(cmd *cobra.Command, args []string) error {
	downloadDir := globalConfig.DownloadDir
	cleanTorrents, _ := cmd.Flags().GetBool("torrents")
	cleanMagnets, _ := cmd.Flags().GetBool("magnets")

	if downloadDir == "" {
		if globalConfig.DatabasePath != "" {
			downloadDir = filepath.Dir(globalConfig.DatabasePath)
			log.Warnf("DownloadDir is empty, inferring base directory from DatabasePath: %s", downloadDir)
		} else {
			return fmt.Errorf("download directory is not configured, cannot determine where to clean")
		}
	}
	info, err := os.Stat(downloadDir)
	if os.IsNotExist(err) {
		return fmt.Errorf("download directory does not exist: %s", downloadDir)
	}
	if err != nil {
		return fmt.Errorf("accessing download directory %q: %w", downloadDir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("download directory is not a directory: %s", downloadDir)
	}

	log.Infof("Scanning for stray files in %s...", downloadDir)

	var tmpRemoved, torrentRemoved, magnetRemoved, filesFailed int
	walkErr := filepath.Walk(downloadDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			log.Warnf("Error accessing path %q during scan: %v", path, err)
			return nil
		}
		if info.IsDir() {
			return nil
		}

		lowerName := strings.ToLower(info.Name())
		var counter *int
		switch {
		case strings.HasSuffix(lowerName, ".tmp"):
			counter = &tmpRemoved
		case cleanTorrents && strings.HasSuffix(lowerName, ".torrent"):
			counter = &torrentRemoved
		case cleanMagnets && strings.HasSuffix(lowerName, "-magnet.txt"):
			counter = &magnetRemoved
		default:
			return nil
		}

		if err := os.Remove(path); err != nil {
			if !os.IsNotExist(err) {
				log.Errorf("Failed to remove %q: %v", path, err)
				filesFailed++
			}
			return nil
		}
		log.Infof("Removed %s", path)
		*counter++
		return nil
	})
	if walkErr != nil {
		return fmt.Errorf("walking %q: %w", downloadDir, walkErr)
	}

	var parts []string
	if tmpRemoved > 0 {
		parts = append(parts, fmt.Sprintf("%d .tmp file(s)", tmpRemoved))
	}
	if torrentRemoved > 0 {
		parts = append(parts, fmt.Sprintf("%d .torrent file(s)", torrentRemoved))
	}
	if magnetRemoved > 0 {
		parts = append(parts, fmt.Sprintf("%d magnet file(s)", magnetRemoved))
	}
	summary := "Clean complete. Removed: "
	if len(parts) > 0 {
		summary += strings.Join(parts, ", ")
	} else {
		summary += "0 files"
	}
	log.Info(summary)

	if filesFailed > 0 {
		return fmt.Errorf("failed to remove %d file(s)", filesFailed)
	}
	return nil
}
