package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/javi11/docvault/internal/config"
	"github.com/javi11/docvault/internal/httpclient"
	"github.com/javi11/docvault/internal/slogutil"
	"github.com/javi11/docvault/internal/syncer"
	"github.com/spf13/cobra"
)

func init() {
	syncCmd := &cobra.Command{
		Use:   "sync",
		Short: "Trigger a sync of the remote document tree",
		Long: `Trigger a sync cycle on the running portal, or with --once run a single
cycle in this process against the configured database and content store.`,
		RunE: runSync,
	}

	syncCmd.Flags().Bool("once", false, "Run one cycle locally instead of calling the running server")
	syncCmd.Flags().Bool("prewarm", false, "With --once, also fetch every new document into the cache")
	syncCmd.Flags().String("url", "", "Base URL of the running server (default http://localhost:<port>)")
	syncCmd.Flags().String("user", "", "Login user (default $DOCVAULT_USER)")
	syncCmd.Flags().String("password", "", "Login password (default $DOCVAULT_PASSWORD)")

	rootCmd.AddCommand(syncCmd)
}

func runSync(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	once, _ := cmd.Flags().GetBool("once")
	if once {
		prewarm, _ := cmd.Flags().GetBool("prewarm")
		return runSyncOnce(cmd.Context(), cfg, prewarm)
	}

	baseURL, _ := cmd.Flags().GetString("url")
	if baseURL == "" {
		baseURL = fmt.Sprintf("http://localhost:%d", cfg.Server.Port)
	}
	user, _ := cmd.Flags().GetString("user")
	if user == "" {
		user = os.Getenv("DOCVAULT_USER")
	}
	pass, _ := cmd.Flags().GetString("password")
	if pass == "" {
		pass = os.Getenv("DOCVAULT_PASSWORD")
	}

	return triggerRemoteSync(cmd.Context(), strings.TrimRight(baseURL, "/"), user, pass)
}

// runSyncOnce runs a single cycle in-process and prints its result
func runSyncOnce(ctx context.Context, cfg *config.Config, prewarm bool) error {
	if ctx == nil {
		ctx = context.Background()
	}

	logger, _ := slogutil.SetupLogRotationWithFallback(cfg.Log)
	slog.SetDefault(logger)

	db, err := initializeDatabase(cfg, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	store, err := newRemoteStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to create remote store: %w", err)
	}

	cfg.Sync.Prewarm = prewarm
	getter := func() *config.Config { return cfg }

	var prewarmer syncer.Prewarmer
	if prewarm {
		docCache, err := initializeCache(cfg, logger)
		if err != nil {
			return err
		}
		prewarmer = newOrchestrator(cfg, docCache, db, store)
	}

	worker := syncer.NewWorker(store, db.Documents, prewarmer, getter)
	result, err := worker.SyncOnce(ctx)
	if result != nil {
		printJSON(result)
	}
	return err
}

// triggerRemoteSync logs in to the running server and queues a cycle
func triggerRemoteSync(ctx context.Context, baseURL, user, pass string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if user == "" || pass == "" {
		return fmt.Errorf("credentials are required: use --user/--password or DOCVAULT_USER/DOCVAULT_PASSWORD")
	}

	client := httpclient.NewSession(httpclient.DefaultTimeout)

	login, err := json.Marshal(map[string]string{"username": user, "password": pass})
	if err != nil {
		return err
	}

	status, body, err := postJSON(ctx, client, baseURL+"/login", login)
	if err != nil {
		return err
	}
	if status == http.StatusUnauthorized {
		return fmt.Errorf("authentication failed for user %s", user)
	}
	if status != http.StatusOK {
		return fmt.Errorf("login failed: %d (body: %s)", status, body)
	}

	slog.Info("Triggering sync", "url", baseURL)

	status, body, err = postJSON(ctx, client, baseURL+"/api/sync/trigger", nil)
	if err != nil {
		return err
	}

	switch status {
	case http.StatusAccepted:
		fmt.Println("sync queued")
		return nil
	case http.StatusConflict:
		return fmt.Errorf("sync not queued: %s", body)
	default:
		return fmt.Errorf("server returned error: %d (body: %s)", status, body)
	}
}

func postJSON(ctx context.Context, client *http.Client, url string, payload []byte) (int, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return 0, "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return 0, "", fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, "", fmt.Errorf("failed to read response: %w", err)
	}

	return resp.StatusCode, strings.TrimSpace(string(body)), nil
}

func printJSON(v any) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Println(v)
		return
	}
	fmt.Println(string(out))
}
