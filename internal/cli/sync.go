package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ppiankov/surfwatch/internal/service"
	"github.com/ppiankov/surfwatch/internal/source"
)

var (
	syncForum   bool
	syncTwitter bool
	syncPages   int
	syncQuery   string
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Pull forum topics and tweets into the local store",
	RunE:  syncAction,
}

func init() {
	syncCmd.Flags().BoolVar(&syncForum, "forum", true, "sync forum topics")
	syncCmd.Flags().BoolVar(&syncTwitter, "twitter", true, "sync tweets (needs a bearer token)")
	syncCmd.Flags().IntVar(&syncPages, "pages", 0, "forum pages to fetch (overrides forum.pages)")
	syncCmd.Flags().StringVar(&syncQuery, "query", "", "tweet search query (overrides twitter.query)")
	rootCmd.AddCommand(syncCmd)
}

func syncAction(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := newApp(cfg, true)
	if err != nil {
		return err
	}
	defer a.close()

	ctx := cmd.Context()
	failed := false

	if syncForum {
		pages := cfg.Forum.Pages
		if syncPages > 0 {
			pages = syncPages
		}
		res, err := a.svc.SyncForum(ctx, pages, cfg.Forum.PerPage)
		if err != nil {
			fmt.Printf("forum: %v\n", err)
			failed = true
		} else {
			printSyncResult("forum", res)
		}
	}

	if syncTwitter {
		query := cfg.Twitter.Query
		if syncQuery != "" {
			query = syncQuery
		}
		res, err := a.svc.SyncMicroblog(ctx, query, cfg.Twitter.MaxResults)
		switch {
		case errors.Is(err, source.ErrNoCredentials):
			fmt.Printf("twitter: skipped, %s not set\n", cfg.Twitter.BearerTokenEnv)
		case err != nil:
			fmt.Printf("twitter: %v\n", err)
			failed = true
		default:
			printSyncResult("twitter", res)
		}
	}

	if failed {
		return fmt.Errorf("sync failed")
	}
	return nil
}

func printSyncResult(name string, res service.SyncResult) {
	fmt.Printf("%s: fetched %d, new %d, updated %d", name, res.Fetched, res.Inserted, res.Updated)
	if res.Failed > 0 {
		fmt.Printf(", failed %d", res.Failed)
	}
	fmt.Println()
}
