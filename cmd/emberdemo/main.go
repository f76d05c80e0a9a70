// Command emberdemo exercises a Store end to end: bucket definitions,
// CRUD, a multi-bucket transaction, a reactive subscription, TTL purge,
// and a durable persistence round trip. It takes no flags; ember ships
// no CLI surface of its own.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	ember "github.com/emberdb/ember"
	"github.com/emberdb/ember/internal/persistence/sqliteadapter"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "emberdemo:", err)
		os.Exit(1)
	}
}

func run() error {
	ctx := context.Background()
	dbPath := "emberdemo.db"
	defer os.Remove(dbPath)

	adapter, err := sqliteadapter.Open(ctx, dbPath)
	if err != nil {
		return fmt.Errorf("open storage adapter: %w", err)
	}

	store, err := ember.Open(
		ember.WithName("emberdemo"),
		ember.WithPersistence(adapter, func(bucketName string, err error) {
			log.Printf("persistence error on %s: %v", bucketName, err)
		}),
		ember.WithBuckets(
			ember.BucketDefinition{
				Name: "accounts",
				Key:  "id",
				Schema: map[string]ember.FieldDefinition{
					"id":      {Type: "string", Generated: "uuid"},
					"balance": {Type: "number", Required: true},
				},
			},
			ember.BucketDefinition{
				Name: "sessions",
				Key:  "id",
				TTL:  200,
				Schema: map[string]ember.FieldDefinition{
					"id":    {Type: "string", Generated: "uuid"},
					"token": {Type: "string", Required: true},
				},
			},
		),
	)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close(ctx)

	accounts, err := store.Bucket("accounts")
	if err != nil {
		return err
	}

	alice, err := accounts.Insert(ctx, ember.Record{"balance": 1000.0})
	if err != nil {
		return fmt.Errorf("insert alice: %w", err)
	}
	bob, err := accounts.Insert(ctx, ember.Record{"balance": 500.0})
	if err != nil {
		return fmt.Errorf("insert bob: %w", err)
	}
	aliceKey := alice["id"].(string)
	bobKey := bob["id"].(string)

	if err := store.RegisterQuery("totalBalance", func(ctx context.Context, qc *ember.QueryContext, params map[string]any) (any, error) {
		return qc.Bucket("accounts").Sum(ctx, "balance", nil)
	}); err != nil {
		return err
	}

	unsub, err := store.Subscribe(ctx, "totalBalance", nil, func(result any, err error) {
		log.Printf("totalBalance changed: %v (err=%v)", result, err)
	})
	if err != nil {
		return err
	}
	defer unsub()

	_, err = store.Transact(ctx, func(tx *ember.TxnContext) (any, error) {
		a, err := tx.Get(ctx, "accounts", aliceKey)
		if err != nil {
			return nil, err
		}
		b, err := tx.Get(ctx, "accounts", bobKey)
		if err != nil {
			return nil, err
		}
		if _, err := tx.Update(ctx, "accounts", aliceKey, map[string]any{"balance": a["balance"].(float64) - 200}); err != nil {
			return nil, err
		}
		if _, err := tx.Update(ctx, "accounts", bobKey, map[string]any{"balance": b["balance"].(float64) + 200}); err != nil {
			return nil, err
		}
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("transfer: %w", err)
	}
	store.Settle()

	sessions, err := store.Bucket("sessions")
	if err != nil {
		return err
	}
	if _, err := sessions.Insert(ctx, ember.Record{"token": "tok-1"}); err != nil {
		return fmt.Errorf("insert session: %w", err)
	}

	time.Sleep(300 * time.Millisecond)
	removed := store.PurgeExpired(ctx)
	log.Printf("ttl purge removed %d session(s)", removed)

	if err := store.Flush(ctx); err != nil {
		return fmt.Errorf("flush: %w", err)
	}

	finalAccounts, err := accounts.All(ctx)
	if err != nil {
		return err
	}
	for _, a := range finalAccounts {
		log.Printf("account %v balance=%v", a["id"], a["balance"])
	}

	return nil
}
