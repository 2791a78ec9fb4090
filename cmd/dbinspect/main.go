// Package main dumps the scans and changelog of a badger data directory.
// The server must be stopped first; badger holds an exclusive lock.
//
// Usage:
//
//	DB_PATH=~/barcodedrop/data/badger go run ./cmd/dbinspect
//	DB_PATH=~/barcodedrop/data/badger go run ./cmd/dbinspect -feed=false -limit 20
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/barcodedrop/barcodedrop-server/internal/domain"
	"github.com/barcodedrop/barcodedrop-server/internal/store"
)

var (
	showFeed = flag.Bool("feed", true, "Also dump the changelog")
	limit    = flag.Int("limit", 50, "Maximum scans to print (0 for all)")
)

func main() {
	flag.Parse()

	dbPath := os.Getenv("DB_PATH")
	if dbPath == "" {
		dbPath = os.ExpandEnv("$HOME/barcodedrop/data/badger")
	}

	s, err := store.New(dbPath, nil, store.Options{})
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer s.Close()

	ctx := context.Background()

	fmt.Println("=== Database Inspection ===")
	fmt.Printf("Path: %s\n\n", dbPath)

	scans, err := s.Find(ctx, store.Filter{}, store.FindOptions{})
	if err != nil {
		log.Fatalf("Error reading scans: %v", err)
	}

	perUser := make(map[string]int)
	unassigned := 0
	for i, scan := range scans {
		if scan.HasUser() {
			perUser[scan.User]++
		} else {
			unassigned++
		}
		if *limit == 0 || i < *limit {
			printScan(scan)
		}
	}
	if *limit > 0 && len(scans) > *limit {
		fmt.Printf("... and %d more scans\n", len(scans)-*limit)
	}

	if *showFeed {
		events, err := s.ChangelogEntries(ctx)
		if err != nil {
			log.Fatalf("Error reading changelog: %v", err)
		}
		fmt.Println()
		fmt.Println("=== Changelog ===")
		for _, ev := range events {
			printEvent(ev)
		}
		fmt.Printf("Entries: %d\n", len(events))
	}

	fmt.Println()
	fmt.Println("=== Summary ===")
	fmt.Printf("Total scans: %d\n", len(scans))
	fmt.Printf("Unassigned scans: %d\n", unassigned)
	for user, n := range perUser {
		fmt.Printf("  %s: %d\n", user, n)
	}
}

func printScan(scan *domain.Scan) {
	user := scan.User
	if user == "" {
		user = "-"
	}
	fmt.Printf("%s  %-12s %s  %q\n", scan.Date.Format(time.RFC3339), user, scan.ID, scan.Barcode)
}

func printEvent(ev store.ChangeEvent) {
	doc := ev.After
	if doc == nil {
		doc = ev.Before
	}
	id, user := "?", "?"
	if doc != nil {
		id, user = doc.ID, doc.User
	}
	fmt.Printf("#%-6d %-7s txn=%s id=%s user=%s at=%s\n",
		ev.Seq, ev.Op, ev.TxnID, id, user, ev.At.Format(time.RFC3339))
}
