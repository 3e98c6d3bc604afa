package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/pflag"
	"golang.org/x/time/rate"

	"github.com/replyloop/service-codepool/internal/application"
	"github.com/replyloop/service-codepool/pkg/auth"
)

// loadResult aggregates counters for the run. Latencies are in nanoseconds.
type loadResult struct {
	Total      int64
	Codes      int64
	Fallbacks  int64
	Errors     int64
	LatencySum int64
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type client struct {
	http         *http.Client
	baseURL      string
	ownerToken   string
	serviceToken string
}

func main() {
	baseURL := pflag.String("url", "http://localhost:8080", "service base URL")
	secret := pflag.String("jwt-secret", os.Getenv("JWT_SECRET"), "HS256 secret shared with the service")
	issuer := pflag.String("jwt-issuer", "replyloop", "token issuer")
	codes := pflag.Int("codes", 5000, "codes in the generated pool")
	workers := pflag.Int("workers", 50, "concurrent workers")
	rps := pflag.Int("rps", 500, "target requests per second")
	duration := pflag.Duration("duration", 20*time.Second, "test duration")
	automations := pflag.Int("automations", 4, "automations sharing the pool")
	repeatEvery := pflag.Int("repeat-every", 10, "replay an earlier event every N requests (0 disables)")
	pflag.Parse()

	jwtManager := auth.NewJWTManager(*secret, *issuer, time.Hour)
	ownerToken, err := jwtManager.Generate(uuid.New(), auth.RoleOwner)
	if err != nil {
		fail("mint owner token: %v", err)
	}
	serviceToken, err := jwtManager.Generate(uuid.New(), auth.RoleService)
	if err != nil {
		fail("mint service token: %v", err)
	}

	c := &client{
		http: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        *workers * 4,
				MaxIdleConnsPerHost: *workers * 4,
				IdleConnTimeout:     90 * time.Second,
			},
			Timeout: 30 * time.Second,
		},
		baseURL:      *baseURL,
		ownerToken:   ownerToken,
		serviceToken: serviceToken,
	}

	pool, err := c.createPool(*codes)
	if err != nil {
		fail("create pool: %v", err)
	}
	fmt.Printf("pool %s created with %d codes\n", pool.ID, pool.TotalCodes)

	automationIDs := make([]uuid.UUID, *automations)
	for i := range automationIDs {
		automationIDs[i] = uuid.New()
	}

	burst := *rps / *workers
	if burst < 1 {
		burst = 1
	}
	limiter := rate.NewLimiter(rate.Limit(*rps), burst)

	ctx, cancel := context.WithTimeout(context.Background(), *duration)
	defer cancel()

	var (
		result    loadResult
		seq       int64
		wg        sync.WaitGroup
		mu        sync.Mutex
		latencies []time.Duration
		issued    = make(map[string]string)
		conflicts int64
	)

	start := time.Now()
	for i := 0; i < *workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				if err := limiter.Wait(ctx); err != nil {
					return
				}
				n := atomic.AddInt64(&seq, 1)
				eventNo := n
				if *repeatEvery > 0 && n%int64(*repeatEvery) == 0 {
					eventNo = n / 2
				}
				automationID := automationIDs[eventNo%int64(len(automationIDs))]
				eventID := fmt.Sprintf("evt-%d", eventNo)

				began := time.Now()
				res, err := c.assign(automationID, pool.ID, eventID)
				lat := time.Since(began)

				atomic.AddInt64(&result.Total, 1)
				if err != nil {
					atomic.AddInt64(&result.Errors, 1)
					continue
				}
				atomic.AddInt64(&result.LatencySum, lat.Nanoseconds())

				mu.Lock()
				latencies = append(latencies, lat)
				if res.Code != nil {
					owner := automationID.String() + "/" + eventID
					if prev, ok := issued[*res.Code]; ok && prev != owner {
						conflicts++
					}
					issued[*res.Code] = owner
				}
				mu.Unlock()

				if res.Fallback {
					atomic.AddInt64(&result.Fallbacks, 1)
				} else {
					atomic.AddInt64(&result.Codes, 1)
				}
			}
		}()
	}

	<-ctx.Done()
	wg.Wait()
	elapsed := time.Since(start)

	fmt.Println("==========================================")
	fmt.Printf("duration        : %.2fs\n", elapsed.Seconds())
	fmt.Printf("requests        : %d\n", result.Total)
	fmt.Printf("codes returned  : %d\n", result.Codes)
	fmt.Printf("fallbacks       : %d\n", result.Fallbacks)
	fmt.Printf("errors          : %d\n", result.Errors)
	fmt.Printf("throughput      : %.2f req/s\n", float64(result.Total)/elapsed.Seconds())
	if ok := result.Total - result.Errors; ok > 0 {
		fmt.Printf("avg latency     : %v\n", time.Duration(result.LatencySum/ok))
	}
	fmt.Printf("p95 latency     : %v\n", percentile(latencies, 0.95))
	fmt.Println("==========================================")

	stats, err := c.poolStats(pool.ID)
	if err != nil {
		fail("read pool stats: %v", err)
	}

	fmt.Printf("distinct codes  : %d\n", len(issued))
	fmt.Printf("pool assigned   : %d\n", stats.AssignedCodes)
	fmt.Printf("assignments     : %d\n", stats.AssignmentCount)
	fmt.Printf("pool remaining  : %d\n", stats.RemainingCodes)

	switch {
	case conflicts > 0:
		fail("%d codes were issued to more than one event", conflicts)
	case int64(stats.AssignedCodes) != stats.AssignmentCount:
		fail("assigned counter %d does not match %d assignment records", stats.AssignedCodes, stats.AssignmentCount)
	case stats.AssignedCodes+stats.RemainingCodes != stats.TotalCodes:
		fail("assigned %d + remaining %d != total %d", stats.AssignedCodes, stats.RemainingCodes, stats.TotalCodes)
	case int64(len(issued)) != stats.AssignmentCount:
		fail("observed %d distinct codes but pool recorded %d assignments", len(issued), stats.AssignmentCount)
	}
	fmt.Println("consistency check passed")
}

func (c *client) createPool(n int) (*application.PoolDTO, error) {
	codes := make([]string, n)
	for i := range codes {
		codes[i] = fmt.Sprintf("LOAD-%06d", i)
	}
	var pool application.PoolDTO
	err := c.do(http.MethodPost, "/api/v1/pools", c.ownerToken, application.CreatePoolRequest{
		Name:  "loadtest " + time.Now().Format(time.RFC3339),
		Codes: codes,
	}, &pool)
	return &pool, err
}

func (c *client) assign(automationID, poolID uuid.UUID, eventID string) (*application.AssignResult, error) {
	var res application.AssignResult
	err := c.do(http.MethodPost, "/api/v1/assignments", c.serviceToken, application.AssignCodeRequest{
		AutomationID: automationID,
		PoolID:       poolID,
		EventID:      eventID,
		ClaimantID:   "claimant-" + eventID,
		ClaimantName: "@" + eventID,
	}, &res)
	return &res, err
}

func (c *client) poolStats(poolID uuid.UUID) (*application.PoolStatsDTO, error) {
	var stats application.PoolStatsDTO
	err := c.do(http.MethodGet, "/api/v1/pools/"+poolID.String(), c.ownerToken, nil, &stats)
	return &stats, err
}

func (c *client) do(method, path, token string, body, out interface{}) error {
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("%s %s: status %d: %w", method, path, resp.StatusCode, err)
	}
	if !env.Success {
		if env.Error != nil {
			return fmt.Errorf("%s %s: %s: %s", method, path, env.Error.Code, env.Error.Message)
		}
		return fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode)
	}
	return json.Unmarshal(env.Data, out)
}

func percentile(latencies []time.Duration, p float64) time.Duration {
	if len(latencies) == 0 {
		return 0
	}
	sorted := append([]time.Duration(nil), latencies...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	idx := int(float64(len(sorted)) * p)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func fail(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
