package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"firesync/internal/domain/credential"
	syncengine "firesync/internal/domain/sync"
	"firesync/internal/infrastructure/aggregator"
	"firesync/internal/infrastructure/crypto"
	"firesync/internal/infrastructure/postgres"
	"firesync/internal/shared/config"
)

const usage = `Firesync Admin CLI - Management commands for the Firesync API

Usage:
  admin <command> [options]

Commands:
  list                 List sync-enabled connections
  sync                 Run a sync for one or more connections
  refresh-credentials  Force a credential refresh for one or more connections
  status               Show connection state and the latest sync run
  set-primary          Mark one account as a user's primary account
  prune-runs           Delete sync run history older than a retention window

Examples:
  # List every sync-enabled connection
  admin list

  # Sync a single connection
  admin sync --connection-id=1

  # Sync several connections sequentially
  admin sync --connection-id=1,2,3

  # Sync every sync-enabled connection
  admin sync --all

  # Full-history backfill for one connection
  admin sync --connection-id=1 --full-history

  # Refresh credentials without touching transactions
  admin refresh-credentials --all

  # Show the latest run for a connection
  admin status --connection-id=1

  # Make account 42 the primary one for user 7
  admin set-primary --user-id=7 --account-id=42

  # Drop run history older than 30 days
  admin prune-runs --retention=720h
`

func main() {
	if len(os.Args) < 2 {
		fmt.Print(usage)
		os.Exit(1)
	}

	command := os.Args[1]

	switch command {
	case "list":
		runList(os.Args[2:])
	case "sync":
		runSync(os.Args[2:])
	case "refresh-credentials":
		runRefreshCredentials(os.Args[2:])
	case "status":
		runStatus(os.Args[2:])
	case "set-primary":
		runSetPrimary(os.Args[2:])
	case "prune-runs":
		runPruneRuns(os.Args[2:])
	case "help", "-h", "--help":
		fmt.Print(usage)
	default:
		fmt.Printf("Unknown command: %s\n\n", command)
		fmt.Print(usage)
		os.Exit(1)
	}
}

// env holds the components the admin commands share.
type env struct {
	db           *postgres.DB
	connections  *postgres.ConnectionRepository
	accounts     *postgres.AccountRepository
	runs         *postgres.RunRepository
	orchestrator *syncengine.Orchestrator
}

func setup() (*env, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	db, err := postgres.New(cfg.Database.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	log.Println("Connected to database")

	var encryptor *crypto.Encryptor
	if cfg.Encryption.Key != "" {
		encryptor, err = crypto.NewEncryptor(cfg.Encryption.Key)
	} else {
		encryptor, err = crypto.NewEncryptorFromPassphrase(cfg.Encryption.Passphrase, cfg.Encryption.Salt)
	}
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create encryptor: %w", err)
	}

	connections := postgres.NewConnectionRepository(db)
	accounts := postgres.NewAccountRepository(db)
	transactions := postgres.NewTransactionRepository(db)
	runs := postgres.NewRunRepository(db)

	client := aggregator.NewClient(aggregator.Config{
		BaseURL:  cfg.Aggregator.BaseURL,
		ClientID: cfg.Aggregator.ClientID,
		Secret:   cfg.Aggregator.ClientSecret,
		Timeout:  cfg.Aggregator.Timeout,
	})

	credentials := credential.NewStore(connections, encryptor, client)

	reconciler, err := syncengine.NewReconciler(accounts, transactions)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create reconciler: %w", err)
	}

	return &env{
		db:           db,
		connections:  connections,
		accounts:     accounts,
		runs:         runs,
		orchestrator: syncengine.NewOrchestrator(client, credentials, connections, reconciler, transactions, runs),
	}, nil
}

func runList(args []string) {
	fs := flag.NewFlagSet("list", flag.ExitOnError)

	fs.Usage = func() {
		fmt.Println("Usage: admin list")
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	e, err := setup()
	if err != nil {
		log.Fatal(err)
	}
	defer e.db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	conns, err := e.connections.ListSyncEnabled(ctx)
	if err != nil {
		log.Fatalf("Failed to list connections: %v", err)
	}
	if len(conns) == 0 {
		fmt.Println("No sync-enabled connections")
		return
	}

	fmt.Printf("%-6s %-8s %-20s %-16s %-20s %s\n", "ID", "USER", "CONNECTOR", "STATUS", "LAST SUCCESS", "LAST RUN")
	for _, c := range conns {
		fmt.Printf("%-6d %-8d %-20s %-16s %-20s %s\n",
			c.ID, c.UserID, c.ConnectorID, c.Status, formatTimePtr(c.LastSuccessAt), c.LastSyncStatus)
	}
}

func runSync(args []string) {
	fs := flag.NewFlagSet("sync", flag.ExitOnError)

	idsStr := fs.String("connection-id", "", "Connection ID(s) to sync (comma-separated for multiple)")
	all := fs.Bool("all", false, "Sync every sync-enabled connection")
	fullHistory := fs.Bool("full-history", false, "Ignore the cursor and fetch the full transaction history")
	forceRefresh := fs.Bool("force-refresh", false, "Refresh the credential even if it has not expired")
	timeoutStr := fs.String("timeout", "30m", "Timeout for the operation (e.g., 5m, 1h)")

	fs.Usage = func() {
		fmt.Println("Usage: admin sync [options]")
		fmt.Println("\nOptions:")
		fs.PrintDefaults()
		fmt.Println("\nExamples:")
		fmt.Println("  admin sync --connection-id=1")
		fmt.Println("  admin sync --connection-id=1,2,3")
		fmt.Println("  admin sync --all")
		fmt.Println("  admin sync --connection-id=1 --full-history --timeout=1h")
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	if *idsStr == "" && !*all {
		fmt.Println("Error: must specify --connection-id or --all")
		fs.Usage()
		os.Exit(1)
	}

	timeout, err := time.ParseDuration(*timeoutStr)
	if err != nil {
		log.Fatalf("Invalid timeout format: %v", err)
	}

	e, err := setup()
	if err != nil {
		log.Fatal(err)
	}
	defer e.db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	ids, err := resolveConnectionIDs(ctx, e, *idsStr, *all)
	if err != nil {
		log.Fatal(err)
	}
	if len(ids) == 0 {
		log.Println("No connections to sync")
		return
	}

	opts := syncengine.DefaultOptions()
	opts.FullHistory = *fullHistory
	opts.ForceRefresh = *forceRefresh

	log.Printf("Starting sync for %d connection(s)", len(ids))
	startTime := time.Now()

	failed := 0
	for _, id := range ids {
		report, err := e.orchestrator.Run(ctx, id, opts)
		if err != nil {
			log.Printf("Connection %d: sync failed: %v", id, err)
			failed++
			if report == nil {
				continue
			}
		}
		printReport(report)
	}

	log.Printf("Sync completed in %v (%d failed)", time.Since(startTime), failed)
	if failed > 0 {
		os.Exit(1)
	}
}

func runRefreshCredentials(args []string) {
	fs := flag.NewFlagSet("refresh-credentials", flag.ExitOnError)

	idsStr := fs.String("connection-id", "", "Connection ID(s) to refresh (comma-separated for multiple)")
	all := fs.Bool("all", false, "Refresh every sync-enabled connection")
	timeoutStr := fs.String("timeout", "10m", "Timeout for the operation (e.g., 5m, 1h)")

	fs.Usage = func() {
		fmt.Println("Usage: admin refresh-credentials [options]")
		fmt.Println("\nOptions:")
		fs.PrintDefaults()
		fmt.Println("\nExamples:")
		fmt.Println("  admin refresh-credentials --connection-id=1")
		fmt.Println("  admin refresh-credentials --all")
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	if *idsStr == "" && !*all {
		fmt.Println("Error: must specify --connection-id or --all")
		fs.Usage()
		os.Exit(1)
	}

	timeout, err := time.ParseDuration(*timeoutStr)
	if err != nil {
		log.Fatalf("Invalid timeout format: %v", err)
	}

	e, err := setup()
	if err != nil {
		log.Fatal(err)
	}
	defer e.db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	ids, err := resolveConnectionIDs(ctx, e, *idsStr, *all)
	if err != nil {
		log.Fatal(err)
	}
	if len(ids) == 0 {
		log.Println("No connections to refresh")
		return
	}

	opts := syncengine.Options{ForceRefresh: true}

	failed := 0
	for _, id := range ids {
		if _, err := e.orchestrator.Run(ctx, id, opts); err != nil {
			log.Printf("Connection %d: refresh failed: %v", id, err)
			failed++
			continue
		}
		log.Printf("Connection %d: credential refreshed", id)
	}

	log.Printf("Refreshed %d of %d connection(s)", len(ids)-failed, len(ids))
	if failed > 0 {
		os.Exit(1)
	}
}

func runStatus(args []string) {
	fs := flag.NewFlagSet("status", flag.ExitOnError)

	id := fs.Int64("connection-id", 0, "Connection ID to inspect")

	fs.Usage = func() {
		fmt.Println("Usage: admin status --connection-id=<id>")
		fmt.Println("\nOptions:")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	if *id == 0 {
		fmt.Println("Error: must specify --connection-id")
		fs.Usage()
		os.Exit(1)
	}

	e, err := setup()
	if err != nil {
		log.Fatal(err)
	}
	defer e.db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	conn, err := e.connections.GetByID(ctx, *id)
	if err != nil {
		log.Fatalf("Failed to load connection %d: %v", *id, err)
	}

	fmt.Printf("\n=== Connection %d ===\n", conn.ID)
	fmt.Printf("  User:             %d\n", conn.UserID)
	fmt.Printf("  Connector:        %s\n", conn.ConnectorID)
	fmt.Printf("  Status:           %s\n", conn.Status)
	fmt.Printf("  Sync enabled:     %t\n", conn.SyncEnabled)
	fmt.Printf("  Cursor:           %s\n", formatTimePtr(conn.Cursor))
	fmt.Printf("  Last synced:      %s\n", formatTimePtr(conn.LastSyncedAt))
	fmt.Printf("  Last success:     %s\n", formatTimePtr(conn.LastSuccessAt))
	fmt.Printf("  Last status:      %s\n", conn.LastSyncStatus)
	if conn.LastSyncError != nil {
		fmt.Printf("  Last error:       %s\n", *conn.LastSyncError)
	}
	fmt.Printf("  Credential until: %s\n", formatTimePtr(conn.CredentialExpiresAt))

	run, err := e.runs.Latest(ctx, conn.ID)
	if err != nil {
		log.Fatalf("Failed to load latest run: %v", err)
	}
	if run == nil {
		fmt.Println("\n  No sync runs recorded")
		return
	}

	fmt.Printf("\n=== Latest run %d ===\n", run.ID)
	fmt.Printf("  Status:       %s\n", run.Status)
	fmt.Printf("  Window:       %s", run.WindowKind)
	if run.WindowFallback {
		fmt.Print(" (fallback)")
	}
	fmt.Println()
	fmt.Printf("  Accounts:     %d found, %d failed\n", run.AccountsFound, run.AccountsFailed)
	fmt.Printf("  Transactions: %d found, %d created, %d updated, %d unchanged, %d skipped, %d failed\n",
		run.TransactionsFound, run.Created, run.Updated, run.Unchanged, run.Skipped, run.Failed)
	fmt.Printf("  Started:      %s\n", run.StartedAt.Format(time.RFC3339))
	fmt.Printf("  Finished:     %s\n", run.FinishedAt.Format(time.RFC3339))
	if run.Error != nil {
		fmt.Printf("  Error:        %s\n", *run.Error)
	}
}

func runSetPrimary(args []string) {
	fs := flag.NewFlagSet("set-primary", flag.ExitOnError)

	userID := fs.Int64("user-id", 0, "Owner of the account")
	accountID := fs.Int64("account-id", 0, "Account to mark primary")

	fs.Usage = func() {
		fmt.Println("Usage: admin set-primary --user-id=<id> --account-id=<id>")
		fmt.Println("\nOptions:")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	if *userID == 0 || *accountID == 0 {
		fmt.Println("Error: must specify --user-id and --account-id")
		fs.Usage()
		os.Exit(1)
	}

	e, err := setup()
	if err != nil {
		log.Fatal(err)
	}
	defer e.db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := e.accounts.SetPrimary(ctx, *userID, *accountID); err != nil {
		log.Fatalf("Failed to set primary account: %v", err)
	}
	log.Printf("User %d: account %d is now primary", *userID, *accountID)
}

func runPruneRuns(args []string) {
	fs := flag.NewFlagSet("prune-runs", flag.ExitOnError)

	retentionStr := fs.String("retention", "720h", "Keep runs newer than this window (e.g., 168h, 720h)")

	fs.Usage = func() {
		fmt.Println("Usage: admin prune-runs [options]")
		fmt.Println("\nOptions:")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	retention, err := time.ParseDuration(*retentionStr)
	if err != nil {
		log.Fatalf("Invalid retention format: %v", err)
	}

	e, err := setup()
	if err != nil {
		log.Fatal(err)
	}
	defer e.db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	cutoff := time.Now().Add(-retention)
	deleted, err := e.runs.Prune(ctx, cutoff)
	if err != nil {
		log.Fatalf("Failed to prune runs: %v", err)
	}

	log.Printf("Pruned %d run(s) older than %s", deleted, cutoff.Format(time.RFC3339))
}

// resolveConnectionIDs turns the --connection-id/--all flags into a concrete
// id list.
func resolveConnectionIDs(ctx context.Context, e *env, idsStr string, all bool) ([]int64, error) {
	if all {
		conns, err := e.connections.ListSyncEnabled(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list connections: %w", err)
		}
		ids := make([]int64, 0, len(conns))
		for _, c := range conns {
			ids = append(ids, c.ID)
		}
		log.Printf("Found %d sync-enabled connections", len(ids))
		return ids, nil
	}

	var ids []int64
	for _, p := range strings.Split(idsStr, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		id, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid connection ID '%s': %w", p, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func printReport(r *syncengine.Report) {
	fmt.Printf("\n=== Connection %d ===\n", r.ConnectionID)
	fmt.Printf("  Status:       %s\n", r.Status)
	fmt.Printf("  Accounts:     %d found, %d enabled, %d failed\n", r.AccountsFound, r.AccountsEnabled, r.AccountsFailed)
	fmt.Printf("  Transactions: %d found, %d created, %d updated, %d unchanged, %d skipped, %d failed\n",
		r.TransactionsFound, r.Created, r.Updated, r.Unchanged, r.Skipped, r.Failed)

	if len(r.Errors) > 0 {
		fmt.Printf("  Errors:       %d\n", len(r.Errors))
		for i, e := range r.Errors {
			if i >= 5 {
				fmt.Printf("    ... and %d more errors\n", len(r.Errors)-5)
				break
			}
			fmt.Printf("    - %s\n", e)
		}
	}
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return "never"
	}
	return t.Format(time.RFC3339)
}
