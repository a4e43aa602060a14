package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ppiankov/surfwatch/internal/config"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create config directory with example files",
	RunE:  initAction,
}

func init() {
	rootCmd.AddCommand(initCmd)
}

func initAction(_ *cobra.Command, _ []string) error {
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	created := 0

	configPath := filepath.Join(configDir, config.DefaultConfigFile)
	wrote, err := writeIfNotExists(configPath, []byte(exampleConfig), 0o644)
	if err != nil {
		return err
	}
	if wrote {
		created++
	}

	envPath := filepath.Join(configDir, config.DefaultEnvFile)
	wrote, err = writeIfNotExists(envPath, []byte(exampleEnv), 0o600)
	if err != nil {
		return err
	}
	if wrote {
		created++
	}

	if created == 0 {
		fmt.Printf("Config directory %s already initialized.\n", configDir)
	} else {
		fmt.Printf("Initialized %s with %d config files.\n", configDir, created)
	}
	return nil
}

// writeIfNotExists writes data to path if the file does not exist.
// Returns true if the file was created.
func writeIfNotExists(path string, data []byte, perm os.FileMode) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		fmt.Printf("  exists: %s\n", path)
		return false, nil
	}
	if err := os.WriteFile(path, data, perm); err != nil {
		return false, fmt.Errorf("write %s: %w", path, err)
	}
	fmt.Printf("  created: %s\n", path)
	return true, nil
}

const exampleConfig = `# surfwatch configuration

server:
  listen: ":5001"
  allowed_origins: []
  requests_per_minute: 0

reddit:
  # communities and terms default to the built-in lists when empty
  communities: []
  terms: []
  requests_per_minute: 60
  max_calls: 10
  client_id_env: REDDIT_CLIENT_ID
  client_secret_env: REDDIT_CLIENT_SECRET
  username_env: REDDIT_USERNAME
  password_env: REDDIT_PASSWORD

scraper:
  base_url: "https://old.reddit.com"
  requests_per_minute: 25
  max_attempts: 5
  timeout: 10s

cache:
  ttl: 10m
  refresh_interval: 5m
  sweep_interval: 10m

twitter:
  bearer_token_env: TWITTER_BEARER_TOKEN
  max_results: 100
  sync_interval: 30m

forum:
  base_url: "https://forum.cursor.com"
  pages: 2
  per_page: 30
  requests_per_second: 2
  sync_interval: 30m

storage:
  path: .surfwatch/surfwatch.db
  retain_days: 90

classify:
  mode: heuristic
  # mode: llm
  # model: gpt-4
  # summary_model: gpt-3.5-turbo
  api_key_env: OPENAI_API_KEY
  limit: 100

privacy:
  redact:
    enabled: false
    builtin: true
    patterns: []

log:
  level: info
  format: console
`

const exampleEnv = `# Credentials loaded by surfwatch. Variables already set in the
# environment take precedence.
REDDIT_CLIENT_ID=
REDDIT_CLIENT_SECRET=
REDDIT_USERNAME=
REDDIT_PASSWORD=
TWITTER_BEARER_TOKEN=
OPENAI_API_KEY=
`
