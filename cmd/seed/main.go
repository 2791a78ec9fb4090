// Package main seeds a data directory with random scans for development.
//
// With the sqlite backend the server may keep running: its change feed picks
// the batches up and pushes them to connected watchers. Badger holds an
// exclusive lock, so stop the server first.
//
// Usage:
//
//	DATA_PATH=~/barcodedrop/data go run ./cmd/seed
//	DATA_PATH=~/barcodedrop/data go run ./cmd/seed -backend sqlite -users alice,bob -count 200 -rate 5
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/barcodedrop/barcodedrop-server/internal/config"
	"github.com/barcodedrop/barcodedrop-server/internal/domain"
	"github.com/barcodedrop/barcodedrop-server/internal/ratelimit"
	"github.com/barcodedrop/barcodedrop-server/internal/store"
	"github.com/barcodedrop/barcodedrop-server/internal/store/sqlite"
)

var (
	backend = flag.String("backend", config.BackendBadger, "Store backend: badger or sqlite")
	users   = flag.String("users", "alice,bob", "Comma separated users; scans are spread across them")
	count   = flag.Int("count", 100, "Number of scans to create")
	batch   = flag.Int("batch", 10, "Scans per transaction")
	rps     = flag.Float64("rate", 0, "Batches per second (0 writes as fast as possible)")
	spread  = flag.Duration("spread", 14*24*time.Hour, "Scan dates are spread over this window before now")
)

func main() {
	flag.Parse()

	dataPath := os.Getenv("DATA_PATH")
	if dataPath == "" {
		dataPath = os.ExpandEnv("$HOME/barcodedrop/data")
	}
	storeCfg := config.StoreConfig{Backend: *backend, DataPath: dataPath}
	dbPath := storeCfg.BackendPath()

	fmt.Printf("Opening %s store at: %s\n", *backend, dbPath)

	s, err := openStore(*backend, dbPath)
	if err != nil {
		log.Fatalf("Failed to open store: %v", err)
	}
	defer s.Close()

	ctx := context.Background()
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	owners := strings.Split(*users, ",")

	var limiter *ratelimit.KeyedRateLimiter
	if *rps > 0 {
		limiter = ratelimit.New(*rps, 1, time.Minute)
		defer limiter.Stop()
	}

	now := time.Now()
	created := 0
	for created < *count {
		n := min(*batch, *count-created)
		scans := make([]*domain.Scan, n)
		for i := range scans {
			scans[i] = &domain.Scan{
				Barcode: randomBarcode(rng),
				User:    strings.TrimSpace(owners[rng.Intn(len(owners))]),
				Date:    now.Add(-time.Duration(rng.Int63n(int64(*spread)))).Truncate(time.Second),
			}
		}

		if limiter != nil {
			if err := limiter.Wait(ctx, "seed"); err != nil {
				log.Fatalf("Rate limiter: %v", err)
			}
		}

		txn, err := s.InsertMany(ctx, scans)
		if err != nil {
			log.Fatalf("Failed to insert batch: %v", err)
		}
		created += n
		fmt.Printf("  %s: %d scans (%d/%d)\n", txn, n, created, *count)
	}

	fmt.Printf("\nSeeding complete: %d scans for %d users\n", created, len(owners))
}

func openStore(backend, path string) (store.ScanStore, error) {
	switch backend {
	case config.BackendSQLite:
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
		return sqlite.Open(path, nil, 0)
	case config.BackendBadger:
		return store.New(path, nil, store.Options{})
	default:
		return nil, fmt.Errorf("unknown backend %q", backend)
	}
}

// randomBarcode returns an EAN-13 with a valid check digit, or now and then
// a free-text label.
func randomBarcode(rng *rand.Rand) string {
	if rng.Intn(10) == 0 {
		return fmt.Sprintf("ITEM-%d", rng.Intn(1000))
	}
	digits := make([]byte, 13)
	sum := 0
	for i := range 12 {
		d := rng.Intn(10)
		digits[i] = byte('0' + d)
		if i%2 == 0 {
			sum += d
		} else {
			sum += 3 * d
		}
	}
	digits[12] = byte('0' + (10-sum%10)%10)
	return string(digits)
}
