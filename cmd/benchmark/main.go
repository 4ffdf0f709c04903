package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

// Config holds the benchmark settings
var (
	targetURL        string
	token            string
	recipientAccount string
	recipientName    string
	amount           string
	concurrency      int
	duration         time.Duration
)

// Metrics
var (
	totalRequests uint64
	success200    uint64
	rejected422   uint64 // insufficient funds once the balance drains
	failOther     uint64
)

func init() {
	flag.StringVar(&targetURL, "url", "http://localhost:8080", "API Base URL")
	flag.StringVar(&token, "token", "", "Bearer token of the sending account (required)")
	flag.StringVar(&recipientAccount, "recipient", "", "Recipient account number (required)")
	flag.StringVar(&recipientName, "name", "", "Recipient display name (required)")
	flag.StringVar(&amount, "amount", "0.01", "Amount per transfer")
	flag.IntVar(&concurrency, "workers", 10, "Number of concurrent workers")
	flag.DurationVar(&duration, "duration", 30*time.Second, "Test duration")
}

func main() {
	flag.Parse()
	if token == "" || recipientAccount == "" || recipientName == "" {
		log.Fatal("-token, -recipient and -name are required")
	}

	log.Printf("Starting Benchmark | Workers: %d | Duration: %s | Amount: %s", concurrency, duration, amount)

	start := time.Now()
	var wg sync.WaitGroup
	wg.Add(concurrency)

	for i := 0; i < concurrency; i++ {
		go worker(&wg, start)
	}

	wg.Wait()
	printResults(time.Since(start))
}

func worker(wg *sync.WaitGroup, start time.Time) {
	defer wg.Done()
	client := &http.Client{Timeout: 5 * time.Second}

	payload, _ := json.Marshal(map[string]string{
		"recipientName":    recipientName,
		"recipientAccount": recipientAccount,
		"amount":           amount,
		"description":      "benchmark transfer",
	})

	for time.Since(start) < duration {
		req, err := http.NewRequest(http.MethodPost, targetURL+"/api/account/transfer", bytes.NewReader(payload))
		if err != nil {
			atomic.AddUint64(&failOther, 1)
			continue
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+token)

		atomic.AddUint64(&totalRequests, 1)
		resp, err := client.Do(req)
		if err != nil {
			atomic.AddUint64(&failOther, 1)
			continue
		}
		resp.Body.Close()

		switch resp.StatusCode {
		case http.StatusOK:
			atomic.AddUint64(&success200, 1)
		case http.StatusUnprocessableEntity:
			atomic.AddUint64(&rejected422, 1)
		default:
			atomic.AddUint64(&failOther, 1)
		}
	}
}

func printResults(elapsed time.Duration) {
	total := atomic.LoadUint64(&totalRequests)
	fmt.Println("--- Results ---")
	fmt.Printf("Elapsed:            %s\n", elapsed.Round(time.Millisecond))
	fmt.Printf("Total Requests:     %d\n", total)
	fmt.Printf("Transfers (200):    %d\n", atomic.LoadUint64(&success200))
	fmt.Printf("Rejected (422):     %d\n", atomic.LoadUint64(&rejected422))
	fmt.Printf("Other Failures:     %d\n", atomic.LoadUint64(&failOther))
	if secs := elapsed.Seconds(); secs > 0 {
		fmt.Printf("Throughput:         %.1f req/s\n", float64(total)/secs)
	}
}
