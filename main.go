package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/joho/godotenv"
	goredis "github.com/redis/go-redis/v9"

	"github.com/vietddude/harvester/internal/collect/gate"
)

// Demo: several workers contending for the search gate, showing how grants
// are serialized and spaced. With REDIS_URL set the same demo runs against
// the cross-process backend.
func main() {
	err := godotenv.Load()
	if err != nil {
		log.Println("No .env file found")
	}

	cfg := gate.Config{
		MinInterval: 500 * time.Millisecond,
		MaxHold:     5 * time.Second,
	}

	var g gate.Gate
	if url := os.Getenv("REDIS_URL"); url != "" {
		opts, err := goredis.ParseURL(url)
		if err != nil {
			log.Fatalf("Bad REDIS_URL: %v", err)
		}
		g = gate.NewRedisGate(goredis.NewClient(opts), cfg)
		fmt.Println("=== Gate demo (redis backend) ===")
	} else {
		g = gate.NewMemoryGate(cfg)
		fmt.Println("=== Gate demo (in-process backend) ===")
	}
	defer g.Close()

	ctx := context.Background()
	budget := gate.NewBudgetTracker(100)
	start := time.Now()

	var mu sync.Mutex
	var lastGrant time.Time

	var wg sync.WaitGroup
	for w := 1; w <= 3; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			caller := fmt.Sprintf("worker-%d", worker)
			for i := 0; i < 3; i++ {
				permit := g.WaitForPermit(ctx, caller, 10*time.Second)
				if !permit.Granted {
					log.Printf("%s: denied: %s", caller, permit.Reason)
					return
				}

				now := time.Now()
				mu.Lock()
				gap := time.Duration(0)
				if !lastGrant.IsZero() {
					gap = now.Sub(lastGrant)
				}
				lastGrant = now
				mu.Unlock()

				fmt.Printf("%-10s granted at %6dms  (gap since previous grant: %v)\n",
					caller, now.Sub(start).Milliseconds(), gap.Round(time.Millisecond))

				// Simulated search
				budget.RecordSearch()
				time.Sleep(100 * time.Millisecond)

				if err := g.Release(ctx, permit.LeaseID); err != nil {
					log.Printf("%s: release error: %v", caller, err)
				}
			}
		}(w)
	}
	wg.Wait()

	stats := g.Stats()
	fmt.Println("\n=== Gate stats ===")
	fmt.Printf("Grants:      %d\n", stats.Grants)
	fmt.Printf("Timeouts:    %d\n", stats.Timeouts)
	fmt.Printf("Expirations: %d\n", stats.Expirations)
	usage := budget.Stats()
	fmt.Printf("Searches:    %d / %d (%.1f%%)\n", usage.Used, usage.Limit, usage.Percentage)
}
