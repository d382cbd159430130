package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Config holds the benchmark settings
var (
	targetURL   string
	concurrency int
	duration    time.Duration
	dupRate     float64
	token       string
)

// Metrics
var (
	totalRequests uint64
	delivered     uint64
	redelivered   uint64
	fail401       uint64
	failOther     uint64
	latencyMicros uint64
)

var statuses = []string{"COMPLETED", "COMPLETED", "COMPLETED", "ERROR", "CANCELED"}

func init() {
	flag.StringVar(&targetURL, "url", "http://localhost:8080", "API Base URL")
	flag.IntVar(&concurrency, "workers", 10, "Number of concurrent workers")
	flag.DurationVar(&duration, "duration", 30*time.Second, "Test duration")
	flag.Float64Var(&dupRate, "duplicates", 0.3, "Share of callbacks delivered again")
	flag.StringVar(&token, "token", "", "X-Webhook-Token to send")
}

func main() {
	flag.Parse()
	log.Printf("Starting callback storm | Workers: %d | Duration: %s | Duplicates: %.0f%%", concurrency, duration, dupRate*100)

	start := time.Now()
	var wg sync.WaitGroup
	wg.Add(concurrency)

	for i := 0; i < concurrency; i++ {
		go worker(&wg, start)
	}

	wg.Wait()
	printResults(time.Since(start))
}

// worker posts settlement callbacks and re-posts some of them, the way a
// provider with at-least-once delivery does. Unknown ids exercise the drop
// path of the reconciler; the endpoint must acknowledge every one quickly.
func worker(wg *sync.WaitGroup, start time.Time) {
	defer wg.Done()
	client := &http.Client{Timeout: 5 * time.Second}
	var sent [][]byte

	for time.Since(start) < duration {
		var body []byte
		redelivery := len(sent) > 0 && rand.Float64() < dupRate
		if redelivery {
			body = sent[rand.Intn(len(sent))]
		} else {
			body, _ = json.Marshal(map[string]any{
				"id":     fmt.Sprintf("bench-%s_%d", uuid.NewString(), rand.Intn(3)+1),
				"status": statuses[rand.Intn(len(statuses))],
				"amount": fmt.Sprintf("%d.%02d", rand.Intn(10000), rand.Intn(100)),
			})
			if len(sent) < 1000 {
				sent = append(sent, body)
			}
		}

		req, _ := http.NewRequest(http.MethodPost, targetURL+"/webhook/settlement", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		if token != "" {
			req.Header.Set("X-Webhook-Token", token)
		}

		t0 := time.Now()
		resp, err := client.Do(req)
		if err != nil {
			atomic.AddUint64(&failOther, 1)
			continue
		}
		atomic.AddUint64(&latencyMicros, uint64(time.Since(t0).Microseconds()))

		atomic.AddUint64(&totalRequests, 1)
		switch {
		case resp.StatusCode == http.StatusOK && redelivery:
			atomic.AddUint64(&redelivered, 1)
		case resp.StatusCode == http.StatusOK:
			atomic.AddUint64(&delivered, 1)
		case resp.StatusCode == http.StatusUnauthorized:
			atomic.AddUint64(&fail401, 1)
		default:
			atomic.AddUint64(&failOther, 1)
		}
		resp.Body.Close()
	}
}

func printResults(d time.Duration) {
	total := atomic.LoadUint64(&totalRequests)
	avgAck := 0.0
	if total > 0 {
		avgAck = float64(atomic.LoadUint64(&latencyMicros)) / float64(total) / 1000
	}

	results := map[string]any{
		"duration_sec":    d.Seconds(),
		"total_requests":  total,
		"throughput_rps":  float64(total) / d.Seconds(),
		"delivered":       atomic.LoadUint64(&delivered),
		"redelivered":     atomic.LoadUint64(&redelivered),
		"unauthorized":    atomic.LoadUint64(&fail401),
		"errors":          atomic.LoadUint64(&failOther),
		"avg_ack_latency": avgAck,
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(results)

	file, err := os.Create("results_callbacks.json")
	if err != nil {
		log.Printf("saving results: %v", err)
		return
	}
	defer file.Close()
	_ = json.NewEncoder(file).Encode(results)
}
