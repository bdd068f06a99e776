// Package main runs the local ledger store as a long-lived process:
// it opens the store, applies migrations and periodically drains the
// sync queue until interrupted.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/yuchia/localledger/internal/config"
	"github.com/yuchia/localledger/internal/db"
	"github.com/yuchia/localledger/internal/ledger"
	"github.com/yuchia/localledger/internal/logging"
	"github.com/yuchia/localledger/internal/models"
	"github.com/yuchia/localledger/internal/sync/queue"
	"github.com/yuchia/localledger/internal/sync/scheduler"
)

// Version is set at build time.
var Version = "0.1.0"

// healthInterval is how often queue health is logged.
const healthInterval = 5 * time.Minute

func main() {
	configPath := flag.String("config", "", "path to config file")
	showVersion := flag.Bool("version", false, "print version and exit")
	scanAccount := flag.String("scan-duplicates", "", "scan an account for duplicate records and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("localledger core v%s\n", Version)
		return
	}

	if err := run(*configPath, *scanAccount); err != nil {
		logging.Error("fatal", err, nil)
		os.Exit(1)
	}
}

func run(configPath, scanAccount string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logging.Init(os.Stderr, cfg.Log.Level)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := db.Open(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	manager := queue.NewManager(store, cfg.Sync.MaxRetries)
	service := ledger.NewService(store, manager, cfg)

	if scanAccount != "" {
		return scanDuplicates(ctx, service, scanAccount)
	}

	dispatcher := queue.NewDispatcher(manager, cfg.Workers.Count)
	defer dispatcher.Close()

	store.RegisterEventCallback(db.EventRecordCreated,
		db.HandlerFunc(func(event string, payload map[string]interface{}) {
			logging.Debug("record event", map[string]interface{}{
				"event":     event,
				"record_id": payload["record_id"],
			})
		}))

	logging.Info("localledger core started", map[string]interface{}{
		"version":   Version,
		"device_id": store.DeviceID(),
	})

	sched := scheduler.New(dispatcher, syncAttempt, scheduler.DefaultConfig())
	sched.Start(ctx)
	defer sched.Stop()

	ticker := time.NewTicker(healthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logging.Info("shutting down", nil)
			return nil
		case <-ticker.C:
			stats, err := manager.Statistics(ctx)
			if err != nil {
				logging.Error("queue statistics unavailable", err, nil)
				continue
			}
			logging.Info("queue health", map[string]interface{}{
				"total":        stats.Total,
				"by_status":    stats.ByStatus,
				"success_rate": stats.SuccessRate,
			})
		}
	}
}

// syncAttempt is the placeholder remote round trip. Without a reachable
// server every attempt fails and items back off per their retry policy,
// which is the correct offline behavior.
func syncAttempt(ctx context.Context, item *models.SyncQueueItem) (*int, error) {
	return nil, fmt.Errorf("no sync endpoint configured for %s %s",
		item.Operation, item.RecordID)
}

// scanDuplicates runs a one-off duplicate scan over the last year and
// prints the groups.
func scanDuplicates(ctx context.Context, service *ledger.Service, accountID string) error {
	end := time.Now().Unix()
	start := time.Now().AddDate(-1, 0, 0).Unix()

	groups, err := service.FindDuplicates(ctx, accountID, start, end, 0)
	if err != nil {
		return err
	}

	if len(groups) == 0 {
		fmt.Println("no likely duplicates found")
		return nil
	}
	for i, group := range groups {
		fmt.Printf("group %d: %s %s (%s)\n", i+1,
			group.Anchor.RecordDateTime().Format("2006-01-02"),
			group.Anchor.Description, group.Anchor.Amount.String())
		for _, match := range group.Matches {
			fmt.Printf("  ~ %.0f%%  %s %s (%s)\n", match.Similarity*100,
				match.Record.RecordDateTime().Format("2006-01-02"),
				match.Record.Description, match.Record.Amount.String())
		}
	}
	return nil
}
