package main

import (
	"log"

	"firesync/internal/domain/credential"
	syncengine "firesync/internal/domain/sync"
	"firesync/internal/infrastructure/aggregator"
	"firesync/internal/infrastructure/crypto"
	"firesync/internal/infrastructure/postgres"
	httpapi "firesync/internal/interfaces/http"
	"firesync/internal/scheduler"
	"firesync/internal/shared/config"
)

// Dependencies holds all initialized application components.
type Dependencies struct {
	DB *postgres.DB

	Client       *aggregator.Client
	Credentials  *credential.Store
	Orchestrator *syncengine.Orchestrator

	Connections  *postgres.ConnectionRepository
	Accounts     *postgres.AccountRepository
	Transactions *postgres.TransactionRepository
	Runs         *postgres.RunRepository

	SyncHandler *httpapi.SyncHandler
	JobSet      *scheduler.JobSet
}

// NewDependencies initializes all application dependencies.
func NewDependencies(cfg *config.Config) (*Dependencies, error) {
	db, err := postgres.New(cfg.Database.ConnectionString())
	if err != nil {
		return nil, err
	}
	log.Println("Connected to database")

	encryptor, err := newEncryptor(cfg.Encryption)
	if err != nil {
		return nil, err
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
		return nil, err
	}
	orchestrator := syncengine.NewOrchestrator(client, credentials, connections, reconciler, transactions, runs)

	syncHandler := httpapi.NewSyncHandler(orchestrator, credentials, connections, accounts, runs, client, cfg.Sync.RunDeadline)

	jobSet := scheduler.NewJobSet(orchestrator, connections, runs)
	jobSet.StalenessThreshold = cfg.Sync.StalenessThreshold
	jobSet.RefreshLookahead = cfg.Sync.RefreshLookahead
	jobSet.RunRetention = cfg.Sync.RunRetention

	return &Dependencies{
		DB:           db,
		Client:       client,
		Credentials:  credentials,
		Orchestrator: orchestrator,
		Connections:  connections,
		Accounts:     accounts,
		Transactions: transactions,
		Runs:         runs,
		SyncHandler:  syncHandler,
		JobSet:       jobSet,
	}, nil
}

func newEncryptor(cfg config.EncryptionConfig) (*crypto.Encryptor, error) {
	if cfg.Key != "" {
		return crypto.NewEncryptor(cfg.Key)
	}
	return crypto.NewEncryptorFromPassphrase(cfg.Passphrase, cfg.Salt)
}

// Close releases all resources held by dependencies.
func (d *Dependencies) Close() {
	if d.DB != nil {
		if err := d.DB.Close(); err != nil {
			log.Printf("Failed to close database: %v", err)
		}
	}
}
