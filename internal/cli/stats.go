package cli

import (
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/ppiankov/surfwatch/internal/store"
)

var statsFormat string

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show stored post counts per source and community",
	RunE:  statsAction,
}

func init() {
	statsCmd.Flags().StringVar(&statsFormat, "format", "terminal", "output format: terminal, json")
	rootCmd.AddCommand(statsCmd)
}

// staleDays marks a community stale when nothing new was stored for this long.
const staleDays = 7

func statsAction(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	db, err := store.Open(cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() { _ = db.Close() }()

	stats, err := db.Stats(cmd.Context())
	if err != nil {
		return fmt.Errorf("get stats: %w", err)
	}

	switch statsFormat {
	case "json":
		return printStatsJSON(os.Stdout, stats)
	case "terminal", "":
		if len(stats) == 0 {
			fmt.Fprintln(os.Stdout, "No stored posts. Run 'surfwatch sync' first.")
			return nil
		}
		printStats(os.Stdout, stats, time.Now())
		return nil
	default:
		return fmt.Errorf("unknown format %q (want terminal or json)", statsFormat)
	}
}

type jsonStatsOutput struct {
	Communities []jsonCommunityStats `json:"communities"`
	Total       int                  `json:"total"`
	Classified  int                  `json:"classified"`
}

type jsonCommunityStats struct {
	Source     string `json:"source"`
	Community  string `json:"community"`
	Total      int    `json:"total"`
	Classified int    `json:"classified"`
	LastSeen   string `json:"last_seen"`
}

func printStatsJSON(w io.Writer, stats []store.CommunityStats) error {
	out := jsonStatsOutput{Communities: make([]jsonCommunityStats, 0, len(stats))}
	for _, cs := range stats {
		out.Communities = append(out.Communities, jsonCommunityStats{
			Source:     cs.Source,
			Community:  cs.Community,
			Total:      cs.Total,
			Classified: cs.Classified,
			LastSeen:   cs.LastSeen.UTC().Format(time.RFC3339),
		})
		out.Total += cs.Total
		out.Classified += cs.Classified
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func printStats(w io.Writer, stats []store.CommunityStats, now time.Time) {
	sorted := make([]store.CommunityStats, len(stats))
	copy(sorted, stats)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Source != sorted[j].Source {
			return sorted[i].Source < sorted[j].Source
		}
		return sorted[i].Total > sorted[j].Total
	})

	var total, classified int
	for _, cs := range sorted {
		total += cs.Total
		classified += cs.Classified
	}

	fmt.Fprintf(w, "surfwatch stats: %s posts in %d communities, %.0f%% classified\n\n",
		humanize.Comma(int64(total)), len(sorted), pct(classified, total))

	maxName := 9 // "Community"
	for _, cs := range sorted {
		maxName = max(maxName, len(cs.Community))
	}
	maxName = min(maxName, 40)

	fmt.Fprintf(w, "  %-12s  %-*s  %6s  %10s  %s\n", "Source", maxName, "Community", "Posts", "Classified", "Last post")
	for _, cs := range sorted {
		name := cs.Community
		if len(name) > maxName {
			name = name[:maxName-1] + "…"
		}
		fmt.Fprintf(w, "  %-12s  %-*s  %6d  %9.0f%%  %s\n",
			cs.Source, maxName, name, cs.Total, pct(cs.Classified, cs.Total), humanize.RelTime(cs.LastSeen, now, "ago", "from now"))
	}
	fmt.Fprintln(w)

	staleThreshold := now.AddDate(0, 0, -staleDays)
	var stale []store.CommunityStats
	for _, cs := range sorted {
		if cs.LastSeen.Before(staleThreshold) {
			stale = append(stale, cs)
		}
	}
	if len(stale) > 0 {
		fmt.Fprintf(w, "--- Stale Communities (no posts in %d+ days) ---\n\n", staleDays)
		for _, cs := range stale {
			daysAgo := int(now.Sub(cs.LastSeen).Hours() / 24)
			fmt.Fprintf(w, "  %s/%s: last post %d days ago\n", cs.Source, cs.Community, daysAgo)
		}
		fmt.Fprintln(w)
	}
}

func pct(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(n) / float64(total) * 100
}
