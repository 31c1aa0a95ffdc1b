// Load test against a running library API: creates a shelf of books, then
// runs concurrent borrow/return cycles and reports throughput and rejections.
// Usage: go run ./scripts/loadtest -books 500 -cycles 20
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

type createBookRequest struct {
	ID     string `json:"id"`
	Title  string `json:"title"`
	Author string `json:"author"`
}

type counters struct {
	ok        int64
	rejected  int64 // 400: lending rule said no
	throttled int64 // 429
	failed    int64
}

func main() {
	numBooks := flag.Int("books", 500, "Number of books to create")
	cycles := flag.Int("cycles", 10, "Borrow/return cycles per book")
	apiURL := flag.String("api", "http://localhost:8080", "API URL")
	concurrency := flag.Int("concurrency", 50, "Concurrent HTTP requests")
	offset := flag.Int("offset", 100000, "First book id, so runs do not collide with real data")
	flag.Parse()

	if *offset+*numBooks > 1000000 {
		log.Fatalf("offset + books must stay below 1000000")
	}

	fmt.Println("==============================================")
	fmt.Println("  Library Lending Load Test")
	fmt.Println("==============================================")
	fmt.Printf("  Books: %d\n", *numBooks)
	fmt.Printf("  Cycles per book: %d\n", *cycles)
	fmt.Printf("  Concurrency: %d\n", *concurrency)
	fmt.Println("==============================================")
	fmt.Println()

	client := &http.Client{
		Timeout: 30 * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:        *concurrency * 2,
			MaxIdleConnsPerHost: *concurrency * 2,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	fmt.Print("[1/3] Checking API health... ")
	resp, err := client.Get(*apiURL + "/health")
	if err != nil {
		log.Fatalf("API not reachable: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		log.Fatalf("API unhealthy: %d", resp.StatusCode)
	}
	fmt.Println("OK")

	ids := make([]string, *numBooks)
	for i := range ids {
		ids[i] = fmt.Sprintf("%06d", *offset+i)
	}

	fmt.Printf("[2/3] Creating %d books... ", *numBooks)
	createStart := time.Now()
	created := createBooks(client, *apiURL, ids, *concurrency)
	createDuration := time.Since(createStart)
	fmt.Printf("done (%.2fs, %.0f/s)\n", createDuration.Seconds(), float64(created.ok)/createDuration.Seconds())
	if created.rejected > 0 {
		fmt.Printf("  NOTE: %d books already existed\n", created.rejected)
	}

	fmt.Printf("[3/3] Running %d borrow/return cycles... ", *numBooks**cycles)
	lendStart := time.Now()
	lent := runCycles(client, *apiURL, ids, *cycles, *concurrency)
	lendDuration := time.Since(lendStart)
	fmt.Printf("done (%.2fs)\n", lendDuration.Seconds())

	fmt.Println()
	fmt.Println("==============================================")
	fmt.Println("  RESULTS")
	fmt.Println("==============================================")
	fmt.Printf("  Successful transitions: %d\n", lent.ok)
	fmt.Printf("  Throughput: %.0f transitions/s\n", float64(lent.ok)/lendDuration.Seconds())
	fmt.Printf("  Rejected (400): %d\n", lent.rejected)
	fmt.Printf("  Throttled (429): %d\n", lent.throttled)
	fmt.Printf("  Failed: %d\n", lent.failed)
	fmt.Println("==============================================")
}

func do(client *http.Client, method, url string, body []byte) (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	return resp.StatusCode, nil
}

func (c *counters) record(status int, err error, want int) {
	switch {
	case err != nil:
		atomic.AddInt64(&c.failed, 1)
	case status == want:
		atomic.AddInt64(&c.ok, 1)
	case status == http.StatusBadRequest:
		atomic.AddInt64(&c.rejected, 1)
	case status == http.StatusTooManyRequests:
		atomic.AddInt64(&c.throttled, 1)
	default:
		atomic.AddInt64(&c.failed, 1)
	}
}

func createBooks(client *http.Client, apiURL string, ids []string, concurrency int) *counters {
	var wg sync.WaitGroup
	sem := make(chan struct{}, concurrency)
	c := &counters{}

	for _, id := range ids {
		wg.Add(1)
		sem <- struct{}{}

		go func(id string) {
			defer wg.Done()
			defer func() { <-sem }()

			body, _ := json.Marshal(createBookRequest{ID: id, Title: "Load test " + id, Author: "loadtest"})
			status, err := do(client, http.MethodPost, apiURL+"/books", body)
			c.record(status, err, http.StatusCreated)
		}(id)
	}

	wg.Wait()
	return c
}

// runCycles gives each book its own goroutine chain, so a book is never
// borrowed twice at once by this tool.
func runCycles(client *http.Client, apiURL string, ids []string, cycles, concurrency int) *counters {
	var wg sync.WaitGroup
	sem := make(chan struct{}, concurrency)
	c := &counters{}
	borrow := []byte(`{"borrower": "012345"}`)

	for _, id := range ids {
		wg.Add(1)
		sem <- struct{}{}

		go func(id string) {
			defer wg.Done()
			defer func() { <-sem }()

			for i := 0; i < cycles; i++ {
				status, err := do(client, http.MethodPatch, apiURL+"/books/"+id+"/borrow", borrow)
				c.record(status, err, http.StatusOK)
				status, err = do(client, http.MethodPatch, apiURL+"/books/"+id+"/return", nil)
				c.record(status, err, http.StatusOK)
			}
		}(id)
	}

	wg.Wait()
	return c
}
