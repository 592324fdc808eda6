package main

import (
	"encoding/json"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"channel-gateway/internal/adapters/provider/twilio"
)

// LoadTestResult summarizes one burst of webhook deliveries.
type LoadTestResult struct {
	TotalRequests   int
	SuccessCount    int32
	FailureCount    int32
	TotalDuration   time.Duration
	RequestsPerSec  float64
	AvgResponseTime time.Duration
	MinResponseTime time.Duration
	MaxResponseTime time.Duration
	Errors          map[string]int
}

type duplicateGroup struct {
	Contacts []struct {
		Contact struct {
			ID    string  `json:"id"`
			Phone *string `json:"phone"`
		} `json:"contact"`
	} `json:"contacts"`
}

// runBurst posts numRequests inbound SMS webhooks from the same phone, so
// every request races to create the sender's contact.
func runBurst(hookURL, authToken, phone string, numRequests, concurrency int) *LoadTestResult {
	var (
		successCount  int32
		failureCount  int32
		totalRespTime int64
		minRespTime   int64 = int64(^uint64(0) >> 1)
		maxRespTime   int64
		errorsMu      sync.Mutex
		errs          = make(map[string]int)
		wg            sync.WaitGroup
		semaphore     = make(chan struct{}, concurrency)
		runID         = rand.Int64()
	)

	fail := func(msg string) {
		atomic.AddInt32(&failureCount, 1)
		errorsMu.Lock()
		errs[msg]++
		errorsMu.Unlock()
	}

	fmt.Printf("\nBurst: %d webhooks from %s, concurrency %d\n", numRequests, phone, concurrency)
	startTime := time.Now()

	for i := 0; i < numRequests; i++ {
		wg.Add(1)
		semaphore <- struct{}{}

		go func(reqNum int) {
			defer wg.Done()
			defer func() { <-semaphore }()

			form := url.Values{}
			form.Set("MessageSid", fmt.Sprintf("SMload%x%06d", runID, reqNum))
			form.Set("From", phone)
			form.Set("To", "+15005550006")
			form.Set("Body", fmt.Sprintf("load test message #%d", reqNum))

			req, _ := http.NewRequest(http.MethodPost, hookURL, strings.NewReader(form.Encode()))
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
			if authToken != "" {
				req.Header.Set(twilio.SignatureHeader, twilio.Signature(authToken, hookURL, form))
			}

			reqStart := time.Now()
			resp, err := http.DefaultClient.Do(req)
			respTimeNs := time.Since(reqStart).Nanoseconds()
			atomic.AddInt64(&totalRespTime, respTimeNs)
			for {
				oldMin := atomic.LoadInt64(&minRespTime)
				if respTimeNs >= oldMin || atomic.CompareAndSwapInt64(&minRespTime, oldMin, respTimeNs) {
					break
				}
			}
			for {
				oldMax := atomic.LoadInt64(&maxRespTime)
				if respTimeNs <= oldMax || atomic.CompareAndSwapInt64(&maxRespTime, oldMax, respTimeNs) {
					break
				}
			}

			if err != nil {
				fail(err.Error())
				return
			}
			defer resp.Body.Close()
			body, _ := io.ReadAll(resp.Body)
			if resp.StatusCode != http.StatusOK {
				fail(fmt.Sprintf("HTTP %d: %s", resp.StatusCode, string(body)))
				return
			}
			atomic.AddInt32(&successCount, 1)
		}(i)
	}

	wg.Wait()
	totalDuration := time.Since(startTime)

	return &LoadTestResult{
		TotalRequests:   numRequests,
		SuccessCount:    successCount,
		FailureCount:    failureCount,
		TotalDuration:   totalDuration,
		RequestsPerSec:  float64(numRequests) / totalDuration.Seconds(),
		AvgResponseTime: time.Duration(totalRespTime / int64(numRequests)),
		MinResponseTime: time.Duration(minRespTime),
		MaxResponseTime: time.Duration(maxRespTime),
		Errors:          errs,
	}
}

func printResults(result *LoadTestResult) {
	fmt.Println("Results")
	fmt.Printf("  total requests:  %d\n", result.TotalRequests)
	fmt.Printf("  success:         %d (%.2f%%)\n", result.SuccessCount, float64(result.SuccessCount)/float64(result.TotalRequests)*100)
	fmt.Printf("  failed:          %d (%.2f%%)\n", result.FailureCount, float64(result.FailureCount)/float64(result.TotalRequests)*100)
	fmt.Printf("  duration:        %v\n", result.TotalDuration)
	fmt.Printf("  requests/sec:    %.2f\n", result.RequestsPerSec)
	fmt.Printf("  avg response:    %v\n", result.AvgResponseTime)
	fmt.Printf("  min response:    %v\n", result.MinResponseTime)
	fmt.Printf("  max response:    %v\n", result.MaxResponseTime)
	for errMsg, count := range result.Errors {
		fmt.Printf("  error %q: %d times\n", errMsg, count)
	}
}

// duplicatesFor returns how many contacts the gateway reports as duplicates
// of phone. Zero means every webhook landed on one contact.
func duplicatesFor(apiURL, phone string) (int, error) {
	resp, err := http.Get(apiURL + "/contacts/duplicates")
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("duplicates: HTTP %d", resp.StatusCode)
	}
	var body struct {
		Groups []duplicateGroup `json:"groups"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return 0, err
	}
	n := 0
	for _, g := range body.Groups {
		for _, c := range g.Contacts {
			if c.Contact.Phone != nil && *c.Contact.Phone == phone {
				n++
			}
		}
	}
	return n, nil
}

func main() {
	baseURL := getenv("GATEWAY_URL", "http://localhost:8080")
	hookURL := baseURL + "/webhooks/twilio"
	authToken := os.Getenv("TWILIO_AUTH_TOKEN")

	resp, err := http.Get(baseURL + "/health")
	if err != nil {
		fmt.Printf("cannot reach gateway at %s: %v\n", baseURL, err)
		os.Exit(1)
	}
	resp.Body.Close()

	failed := false
	for _, burst := range []struct{ requests, concurrency int }{{20, 20}, {200, 50}} {
		phone := fmt.Sprintf("+1415555%04d", rand.IntN(10000))
		result := runBurst(hookURL, authToken, phone, burst.requests, burst.concurrency)
		printResults(result)

		n, err := duplicatesFor(baseURL+"/api", phone)
		switch {
		case err != nil:
			fmt.Printf("  duplicate check failed: %v\n", err)
			failed = true
		case n > 0:
			fmt.Printf("  FAIL: %d contacts created for %s\n", n, phone)
			failed = true
		default:
			fmt.Printf("  one contact for %s\n", phone)
		}
		time.Sleep(time.Second)
	}
	if failed {
		os.Exit(1)
	}
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
