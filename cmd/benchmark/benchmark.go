package main

import (
	"context"
	"fmt"
	"sync"
	"time"

	cache "github.com/krisalay/fleet-agenda-cache"
	"github.com/krisalay/fleet-agenda-cache/engine"
	"github.com/krisalay/fleet-agenda-cache/expiration"
	"github.com/krisalay/fleet-agenda-cache/spill"
	"github.com/krisalay/fleet-agenda-cache/timeline"
	"github.com/krisalay/fleet-agenda-cache/types"
)

// ================= BACKEND =================

type pageFilter string

func (f pageFilter) Signature() string { return string(f) }

func fetchPage(ctx context.Context, page int, f types.Filter) (types.Page[timeline.Record], error) {
	items := make([]timeline.Record, 50)
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := range items {
		items[i] = timeline.Record{
			ID:            fmt.Sprintf("%d-%d", page, i),
			ResourceRefID: fmt.Sprint((page*7 + i) % 40),
			Start:         start.Add(time.Duration(i) * time.Hour),
			End:           start.Add(time.Duration(i+30) * time.Hour),
			Status:        "confirmed",
		}
	}
	return types.Page[timeline.Record]{Items: items, Total: 50 * 200}, nil
}

// ================= BENCHMARK =================

func main() {
	ctx := context.Background()

	const (
		pages      = 200
		filters    = 4
		goroutines = 200
		opsPerG    = 5000
	)

	fmt.Println("\n================ AGENDA LOAD BENCHMARK =================")
	fmt.Println("CONFIG")
	fmt.Println("---------------------------------")
	fmt.Println("Pages/Filter :", pages)
	fmt.Println("Filters      :", filters)
	fmt.Println("Goroutines   :", goroutines)
	fmt.Println("Ops/Goroutine:", opsPerG)
	fmt.Println("---------------------------------")

	eng := engine.NewCacheEngine(
		&expiration.StaleWhileRevalidate{TTL: 5 * time.Minute},
		nil,
		spill.NewStore(nil, 0, nil),
		nil,
		nil,
	)
	c := cache.NewPagedEntityCache[timeline.Record]("bookings", types.PageFetcherFunc[timeline.Record](fetchPage), 50, eng)

	// ---------------- Preload Cache ----------------
	fmt.Println("Preloading cache...")
	for f := 0; f < filters; f++ {
		for p := 1; p <= pages; p++ {
			c.Get(ctx, p, pageFilter(fmt.Sprintf("status=%d", f)), false)
		}
	}
	fmt.Println("Preload complete.")

	// ---------------- Load Test ----------------
	fmt.Println("Running concurrency benchmark...")
	start := time.Now()

	wg := sync.WaitGroup{}
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func(id int) {
			defer wg.Done()
			for j := 0; j < opsPerG; j++ {
				p, _ := c.Get(ctx, j%pages+1, pageFilter(fmt.Sprintf("status=%d", id%filters)), false)
				if j%100 == 0 {
					timeline.Reconcile(p.Items, nil, timeline.Options{})
				}
			}
		}(i)
	}
	wg.Wait()

	duration := time.Since(start)
	totalOps := goroutines * opsPerG

	fmt.Println("\n================ RESULTS =================")
	fmt.Printf("Total Operations : %d\n", totalOps)
	fmt.Printf("Total Time       : %v\n", duration)
	fmt.Printf("Throughput       : %.2f ops/sec\n", float64(totalOps)/duration.Seconds())
	fmt.Println("=========================================")

	eng.Close()
}
