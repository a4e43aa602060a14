package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ppiankov/surfwatch/internal/classify"
	"github.com/ppiankov/surfwatch/internal/source"
)

var (
	classifySource string
	classifyLimit  int
)

var classifyCmd = &cobra.Command{
	Use:   "classify",
	Short: "Classify stored posts and save the labels",
	RunE:  classifyAction,
}

func init() {
	classifyCmd.Flags().StringVar(&classifySource, "source", source.TagForum, "stored source: cursor_forum, twitter")
	classifyCmd.Flags().IntVar(&classifyLimit, "limit", 0, "posts to classify (overrides classify.limit)")
	rootCmd.AddCommand(classifyCmd)
}

func classifyAction(cmd *cobra.Command, _ []string) error {
	if classifySource != source.TagForum && classifySource != source.TagTwitter {
		return fmt.Errorf("unknown source %q (want %s or %s)", classifySource, source.TagForum, source.TagTwitter)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := newApp(cfg, true)
	if err != nil {
		return err
	}
	defer a.close()

	limit := cfg.Classify.Limit
	if classifyLimit > 0 {
		limit = classifyLimit
	}

	posts, err := a.svc.Classify(cmd.Context(), classifySource, limit)
	if err != nil {
		return fmt.Errorf("classify: %w", err)
	}
	if len(posts) == 0 {
		fmt.Printf("No %s posts to classify. Run 'surfwatch sync' first.\n", classifySource)
		return nil
	}

	counts := make(map[string]int)
	for _, p := range posts {
		for _, l := range p.Classifications {
			counts[l]++
		}
	}

	fmt.Printf("Classified %d %s posts (mode %s)\n\n", len(posts), classifySource, cfg.Classify.Mode)
	for _, c := range classify.Categories {
		if n := counts[c.ID]; n > 0 {
			fmt.Printf("  %-24s %4d\n", c.Label, n)
		}
	}
	fmt.Println()
	for _, p := range posts {
		fmt.Printf("  %s  %s\n", strings.Join(p.Classifications, ","), firstN(p.Title, 70))
	}
	return nil
}

func firstN(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
