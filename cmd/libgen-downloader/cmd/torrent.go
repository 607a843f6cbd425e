package cmd

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/anacrolix/torrent/bencode"
	"github.com/anacrolix/torrent/metainfo"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"go-libgen-download/index"
	"go-libgen-download/internal/models"
	"go-libgen-download/internal/store"
)

// Struct to hold job parameters for torrent workers
type torrentJob struct {
	Record         models.DedupRecord
	Trackers       []string
	OutputDir      string
	Overwrite      bool
	GenerateMagnet bool
}

type torrentResult struct {
	ExternalID  string
	TorrentPath string
	MagnetLink  string
}

var (
	torrentBookIDs      []string
	announceURLs        []string
	torrentOutputDir    string
	overwriteTorrents   bool
	generateMagnetLinks bool
)

var torrentCmd = &cobra.Command{
	Use:   "torrent",
	Short: "Generate .torrent files for fetched books",
	Long: `Generates BitTorrent metainfo (.torrent) files for books previously
downloaded with the 'fetch' command. Requires access to the dedup database and
the downloaded files themselves. You must specify tracker announce URLs.`,
	RunE: runTorrent,
}

func init() {
	rootCmd.AddCommand(torrentCmd)

	torrentCmd.Flags().StringSliceVar(&announceURLs, "announce", []string{}, "Tracker announce URL (repeatable)")
	torrentCmd.Flags().StringSliceVar(&torrentBookIDs, "id", []string{}, "Specific external id(s) to generate torrents for. Default: all fetched books.")
	torrentCmd.Flags().StringVarP(&torrentOutputDir, "output-dir", "o", "", "Directory to save generated .torrent files (default: next to the book file)")
	torrentCmd.Flags().BoolVarP(&overwriteTorrents, "overwrite", "f", false, "Overwrite existing .torrent files")
	torrentCmd.Flags().BoolVar(&generateMagnetLinks, "magnet-links", false, "Write a .txt file containing the magnet link alongside each .torrent file")
	torrentCmd.Flags().IntP("concurrency", "c", 4, "Number of concurrent torrent generation workers")
}

func runTorrent(cmd *cobra.Command, args []string) error {
	if len(announceURLs) == 0 {
		return errors.New("at least one --announce URL is required")
	}

	concurrency, _ := cmd.Flags().GetInt("concurrency")
	if concurrency <= 0 {
		log.Warnf("Invalid concurrency value %d, defaulting to 4", concurrency)
		concurrency = 4
	}

	st, err := openStore()
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer st.Close()

	idSet := make(map[string]struct{}, len(torrentBookIDs))
	for _, id := range torrentBookIDs {
		idSet[id] = struct{}{}
	}

	fetched, err := st.ListByStatus(models.StatusFetched)
	if err != nil {
		return fmt.Errorf("scanning database: %w", err)
	}

	var targets []models.DedupRecord
	for _, rec := range fetched {
		if rec.Fetch == nil || rec.Fetch.LocalPath == "" {
			log.WithField("id", rec.Entry.ExternalID).Warn("Skipping fetched record with no local path")
			continue
		}
		if len(idSet) > 0 {
			if _, wanted := idSet[rec.Entry.ExternalID]; !wanted {
				continue
			}
		}
		targets = append(targets, rec)
	}

	if len(targets) == 0 {
		if len(torrentBookIDs) > 0 {
			log.Warnf("No fetched books found matching ids: %v", torrentBookIDs)
		} else {
			log.Info("No fetched books in the database.")
		}
		return nil
	}

	log.Infof("Generating torrents for %d book(s) using %d workers...", len(targets), concurrency)

	jobs := make(chan torrentJob, concurrency)
	results := make(chan torrentResult, len(targets))
	var wg sync.WaitGroup
	var failureCounter atomic.Int64

	for i := 1; i <= concurrency; i++ {
		wg.Add(1)
		go torrentWorker(i, jobs, results, &wg, &failureCounter)
	}

	for _, rec := range targets {
		jobs <- torrentJob{
			Record:         rec,
			Trackers:       announceURLs,
			OutputDir:      torrentOutputDir,
			Overwrite:      overwriteTorrents,
			GenerateMagnet: generateMagnetLinks,
		}
	}
	close(jobs)
	wg.Wait()
	close(results)

	updateIndexTorrents(st, results)

	failCount := failureCounter.Load()
	log.Infof("Torrent generation complete. Success: %d, Failed: %d", int64(len(targets))-failCount, failCount)
	if failCount > 0 {
		return fmt.Errorf("%d torrent(s) failed to generate", failCount)
	}
	return nil
}

func torrentWorker(id int, jobs <-chan torrentJob, results chan<- torrentResult, wg *sync.WaitGroup, failureCounter *atomic.Int64) {
	defer wg.Done()
	for job := range jobs {
		fields := log.Fields{"id": job.Record.Entry.ExternalID, "file": job.Record.Fetch.LocalPath}
		result, err := generateTorrentFile(job)
		if err != nil {
			log.WithFields(fields).WithError(err).Errorf("Worker %d: torrent generation failed", id)
			failureCounter.Add(1)
			continue
		}
		log.WithFields(fields).Infof("Worker %d: generated %s", id, result.TorrentPath)
		results <- result
	}
}

// generateTorrentFile creates a .torrent file for one fetched book and,
// optionally, a text file with the magnet link.
func generateTorrentFile(job torrentJob) (torrentResult, error) {
	sourcePath := job.Record.Fetch.LocalPath
	if _, err := os.Stat(sourcePath); err != nil {
		return torrentResult{}, fmt.Errorf("source file unavailable: %w", err)
	}

	torrentFileName := fmt.Sprintf("%s.torrent", filepath.Base(sourcePath))
	var outPath string
	if job.OutputDir != "" {
		if err := os.MkdirAll(job.OutputDir, 0755); err != nil {
			return torrentResult{}, fmt.Errorf("creating output directory %s: %w", job.OutputDir, err)
		}
		outPath = filepath.Join(job.OutputDir, torrentFileName)
	} else {
		outPath = filepath.Join(filepath.Dir(sourcePath), torrentFileName)
	}

	if !job.Overwrite {
		if _, err := os.Stat(outPath); err == nil {
			log.WithField("path", outPath).Info("Skipping existing torrent file (use --overwrite to replace)")
			return torrentResult{ExternalID: job.Record.Entry.ExternalID, TorrentPath: outPath}, nil
		}
	}

	mi := metainfo.MetaInfo{
		AnnounceList: make([][]string, len(job.Trackers)),
	}
	for i, tracker := range job.Trackers {
		mi.AnnounceList[i] = []string{tracker}
	}
	if len(job.Trackers) > 0 {
		mi.Announce = job.Trackers[0]
	}
	mi.CreatedBy = "go-libgen-download"

	const pieceLength = 512 * 1024
	info := metainfo.Info{PieceLength: pieceLength}
	if err := info.BuildFromFilePath(sourcePath); err != nil {
		return torrentResult{}, fmt.Errorf("building torrent info from %s: %w", sourcePath, err)
	}

	var err error
	mi.InfoBytes, err = bencode.Marshal(info)
	if err != nil {
		return torrentResult{}, fmt.Errorf("marshaling torrent info: %w", err)
	}

	f, err := os.Create(outPath)
	if err != nil {
		return torrentResult{}, fmt.Errorf("creating torrent file %s: %w", outPath, err)
	}
	defer f.Close()
	if err := mi.Write(f); err != nil {
		return torrentResult{}, fmt.Errorf("writing torrent file %s: %w", outPath, err)
	}

	result := torrentResult{ExternalID: job.Record.Entry.ExternalID, TorrentPath: outPath}

	if job.GenerateMagnet {
		infoHash := mi.HashInfoBytes()
		magnetParts := []string{
			fmt.Sprintf("magnet:?xt=urn:btih:%s", infoHash.HexString()),
			fmt.Sprintf("dn=%s", url.QueryEscape(filepath.Base(sourcePath))),
		}
		for _, tracker := range job.Trackers {
			magnetParts = append(magnetParts, fmt.Sprintf("tr=%s", url.QueryEscape(tracker)))
		}
		result.MagnetLink = strings.Join(magnetParts, "&")

		magnetFileName := fmt.Sprintf("%s-magnet.txt", strings.TrimSuffix(torrentFileName, ".torrent"))
		magnetOutPath := filepath.Join(filepath.Dir(outPath), magnetFileName)
		if err := os.WriteFile(magnetOutPath, []byte(result.MagnetLink), 0644); err != nil {
			// The torrent itself succeeded; losing the magnet file is not fatal.
			log.WithError(err).WithField("path", magnetOutPath).Error("Failed to write magnet link file")
		}
	}

	return result, nil
}

// updateIndexTorrents records generated torrent paths and magnet links on
// the indexed items, when an index is configured.
func updateIndexTorrents(st *store.Store, results <-chan torrentResult) {
	if globalConfig.BleveIndexPath == "" {
		return
	}
	idx, err := index.OpenOrCreateIndex(globalConfig.BleveIndexPath)
	if err != nil {
		log.WithError(err).Warn("Cannot open search index, torrent info not indexed")
		return
	}
	defer idx.Close()

	for result := range results {
		rec, err := st.Get(result.ExternalID)
		if err != nil {
			continue
		}
		item := index.FromRecord(rec)
		item.TorrentPath = result.TorrentPath
		item.MagnetLink = result.MagnetLink
		if err := index.IndexItem(idx, item); err != nil {
			log.WithError(err).Warnf("Updating index for %s failed", result.ExternalID)
		}
	}
}
