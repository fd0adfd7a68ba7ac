package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"strconv"
	"time"

	"job-queue/pkg/job"
)

func main() {
	apiURL := os.Getenv("API_URL")
	if apiURL == "" {
		apiURL = "http://api:8080/jobs"
	}

	// Configurable load parameters
	ratePerSec := envInt("RATE_PER_SEC", 1)
	concurrency := envInt("CONCURRENCY", 1)
	// Share of submissions that carry a singleton key, in percent.
	dedupPercent := envInt("DEDUP_PERCENT", 0)

	// Launch concurrent workers
	for i := 0; i < concurrency; i++ {
		go submitLoop(apiURL, ratePerSec/concurrency, dedupPercent)
	}

	select {} // block forever
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}

func submitLoop(apiURL string, rps, dedupPercent int) {
	interval := time.Second
	if rps > 0 {
		interval = time.Second / time.Duration(rps)
	}
	if interval < time.Millisecond {
		interval = time.Millisecond // prevent very tight loop that overwhelms API inside container
	}
	ticker := time.NewTicker(interval)
	for {
		<-ticker.C
		req := randomRequest(dedupPercent)
		body, _ := json.Marshal(req)
		resp, err := http.Post(apiURL, "application/json", bytes.NewReader(body))
		if err != nil {
			log.Printf("failed to submit job: %v", err)
			continue
		}
		log.Printf("submitted job: %s, priority: %d, status: %d", req.Name, req.Priority, resp.StatusCode)
		resp.Body.Close()
	}
}

func randomRequest(dedupPercent int) job.Request {
	req := job.Request{
		Name:       randomJobName(),
		Priority:   randomPriority(),
		Data:       randomPayload(),
		RetryLimit: 3,
	}
	if rand.Intn(100) < dedupPercent {
		req.SingletonKey = fmt.Sprintf("user%d", rand.Intn(20))
		req.SingletonSeconds = 60
	}
	return req
}

func randomJobName() string {
	if rand.Intn(2) == 0 {
		return "send_email"
	}
	return "export_data"
}

// randomPriority mirrors low, normal and high as 1, 5 and 9.
func randomPriority() int {
	switch rand.Intn(3) {
	case 0:
		return 1
	case 1:
		return 5
	default:
		return 9
	}
}

func randomPayload() json.RawMessage {
	return json.RawMessage(fmt.Sprintf(`{"user":"user%d","data":"payload"}`, rand.Intn(1000)))
}
