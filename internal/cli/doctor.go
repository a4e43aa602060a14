package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/surfwatch/internal/config"
	"github.com/ppiankov/surfwatch/internal/store"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check config, credentials and the local store",
	RunE:  doctorAction,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}

func doctorAction(cmd *cobra.Command, _ []string) error {
	ok := true

	if info, err := os.Stat(configDir); err != nil || !info.IsDir() {
		printCheck(false, "config directory %s", configDir)
		ok = false
	} else {
		printCheck(true, "config directory %s", configDir)
	}

	cfg, err := config.Load(configDir)
	if err != nil {
		printCheck(false, "config.yaml: %v", err)
		return fmt.Errorf("some checks failed")
	}
	printCheck(true, "config.yaml (%d communities, %d search terms)",
		len(cfg.Reddit.Communities), len(cfg.Reddit.Terms))

	var db *store.Store
	db, err = store.Open(cfg.Storage.Path)
	if err != nil {
		printCheck(false, "database: %v", err)
		ok = false
	} else {
		defer func() { _ = db.Close() }()
		if v, err := db.SchemaVersion(cmd.Context()); err != nil {
			printCheck(false, "database %s: %v", cfg.Storage.Path, err)
			ok = false
		} else {
			printCheck(true, "database %s (schema v%d)", cfg.Storage.Path, v)
		}
	}

	// Missing credentials degrade features but never block startup.
	if cfg.Reddit.ClientID == "" || cfg.Reddit.ClientSecret == "" {
		printInfo("reddit api: %s/%s not set, searches use the scraper", cfg.Reddit.ClientIDEnv, cfg.Reddit.ClientSecretEnv)
	} else {
		printCheck(true, "reddit api credentials")
	}
	if cfg.Twitter.BearerToken == "" {
		printInfo("twitter: %s not set, tweet sync disabled", cfg.Twitter.BearerTokenEnv)
	} else {
		printCheck(true, "twitter bearer token")
	}
	if cfg.Classify.Mode == "llm" {
		if cfg.Classify.APIKey == "" {
			printCheck(false, "classify: mode llm but %s not set", cfg.Classify.APIKeyEnv)
			ok = false
		} else {
			printCheck(true, "classify api key")
		}
	}

	if db != nil {
		checkStoreHealth(cmd.Context(), db)
	}

	if !ok {
		return fmt.Errorf("some checks failed")
	}
	fmt.Println("\nAll checks passed.")
	return nil
}

func checkStoreHealth(ctx context.Context, db *store.Store) {
	stats, err := db.Stats(ctx)
	if err != nil || len(stats) == 0 {
		return
	}

	staleThreshold := time.Now().AddDate(0, 0, -staleDays)
	fmt.Println()
	for _, cs := range stats {
		if cs.LastSeen.Before(staleThreshold) {
			daysAgo := int(time.Since(cs.LastSeen).Hours() / 24)
			printInfo("stale: %s/%s, last post %d days ago", cs.Source, cs.Community, daysAgo)
		}
		if cs.Total >= 20 && cs.Classified == 0 {
			printInfo("unclassified: %s/%s has %d posts (run 'surfwatch classify')", cs.Source, cs.Community, cs.Total)
		}
	}
}

func printCheck(pass bool, format string, args ...any) {
	mark := "FAIL"
	if pass {
		mark = " OK "
	}
	fmt.Printf("[%s] %s\n", mark, fmt.Sprintf(format, args...))
}

func printInfo(format string, args ...any) {
	fmt.Printf("[INFO] %s\n", fmt.Sprintf(format, args...))
}
