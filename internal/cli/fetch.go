package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/surfwatch/internal/cache"
	"github.com/ppiankov/surfwatch/internal/digest"
	"github.com/ppiankov/surfwatch/internal/service"
	"github.com/ppiankov/surfwatch/internal/source"
)

var (
	fetchCommunity string
	fetchSort      string
	fetchWindow    string
	fetchSearch    string
	fetchLimit     int
	fetchScraper   bool
	fetchFormat    string
	noColor        bool
)

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Fetch community mentions once and print them",
	RunE:  fetchAction,
}

func init() {
	fetchCmd.Flags().StringVar(&fetchCommunity, "community", "", "single community (default: every configured community)")
	fetchCmd.Flags().StringVar(&fetchSort, "sort", source.DefaultSort, "sort: hot, new, top, relevance")
	fetchCmd.Flags().StringVar(&fetchWindow, "time", source.DefaultWindow, "time window: all, day, week, month, year")
	fetchCmd.Flags().StringVar(&fetchSearch, "search", "", "keep posts whose title or content contains this text")
	fetchCmd.Flags().IntVar(&fetchLimit, "limit", source.DefaultLimit, "results per search")
	fetchCmd.Flags().BoolVar(&fetchScraper, "scraper", false, "skip the official API and scrape")
	fetchCmd.Flags().StringVar(&fetchFormat, "format", "terminal", "output format: terminal, json")
	fetchCmd.Flags().BoolVar(&noColor, "no-color", false, "disable ANSI colors")
	rootCmd.AddCommand(fetchCmd)
}

func fetchAction(cmd *cobra.Command, _ []string) error {
	formatter, err := newFormatter(fetchFormat)
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := newApp(cfg, false)
	if err != nil {
		return err
	}
	defer a.close()

	dataSource := cache.SourceAPI
	if fetchScraper {
		dataSource = cache.SourceScraper
	}
	p := service.Params{
		Community: fetchCommunity,
		Sort:      fetchSort,
		Window:    fetchWindow,
		Limit:     fetchLimit,
		Search:    fetchSearch,
	}
	posts, cached := a.svc.FetchOrCache(cmd.Context(), dataSource, p)

	return formatter.Format(os.Stdout, digest.Input{
		Posts:       posts,
		Source:      dataSource,
		Community:   fetchCommunity,
		Sort:        source.ParseSort(fetchSort),
		Window:      source.ParseWindow(fetchWindow),
		Search:      fetchSearch,
		Cached:      cached,
		GeneratedAt: time.Now(),
	})
}

func newFormatter(format string) (digest.Formatter, error) {
	switch format {
	case "json":
		return digest.NewJSON(), nil
	case "terminal", "":
		return digest.NewTerminal(!noColor && isTerminal(os.Stdout)), nil
	default:
		return nil, fmt.Errorf("unknown format %q (want terminal or json)", format)
	}
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}
