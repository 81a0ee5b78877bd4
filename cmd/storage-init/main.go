package main

import (
	"context"
	"errors"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	log "github.com/sirupsen/logrus"

	"github.com/dahch/task-board-sync/internal/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.Relay.Debug {
		log.SetLevel(log.DebugLevel)
	}
	log.Info("storage init starting")

	if cfg.Relay.StorageConnectionString == "" {
		log.Fatal("missing STORAGE_CONNECTION_STRING")
	}
	if cfg.Relay.TasksTable == "" {
		log.Fatal("missing TASKS_TABLE")
	}

	if err := createTables(context.Background(), cfg.Relay.StorageConnectionString, []string{cfg.Relay.TasksTable}); err != nil {
		log.Fatalf("create tables: %v", err)
	}
	log.WithField("table", cfg.Relay.TasksTable).Info("storage init complete")
}

func createTables(ctx context.Context, connStr string, names []string) error {
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, nil)
	if err != nil {
		return err
	}
	for _, name := range names {
		if name == "" {
			continue
		}
		if _, err := svc.NewClient(name).CreateTable(ctx, nil); err != nil && !alreadyExists(err) {
			return err
		}
	}
	return nil
}

func alreadyExists(err error) bool {
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.ErrorCode == string(aztables.TableAlreadyExists)
}
