// Command ledger_load drives deposit/withdraw traffic against a running lendpool
// while holding event stream connections open.
package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
)

type counters struct {
	ops       atomic.Int64
	rejected  atomic.Int64
	failed    atomic.Int64
	streamed  atomic.Int64
	streamErr atomic.Int64
}

func main() {
	var (
		baseURL  string
		users    int
		rounds   int
		streams  int
		asset    string
		amount   uint64
		duration time.Duration
	)

	flag.StringVar(&baseURL, "url", "http://localhost:8080", "lendpool base URL")
	flag.IntVar(&users, "users", 50, "number of concurrent users")
	flag.IntVar(&rounds, "rounds", 100, "deposit/withdraw rounds per user")
	flag.IntVar(&streams, "streams", 10, "event stream connections to hold open")
	flag.StringVar(&asset, "asset", "USDC", "asset to move")
	flag.Uint64Var(&amount, "amount", 1000, "amount per deposit in smallest units")
	flag.DurationVar(&duration, "dur", 0, "stop after this duration (0 runs all rounds)")
	flag.Parse()

	if users <= 0 || rounds <= 0 || amount == 0 {
		log.Fatalf("invalid load: users=%d rounds=%d amount=%d", users, rounds, amount)
	}
	baseURL = strings.TrimRight(baseURL, "/")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, duration)
		defer cancel()
	}

	client := &http.Client{
		Transport: &http.Transport{
			MaxConnsPerHost:     users + streams + 10,
			MaxIdleConnsPerHost: users + streams + 10,
			DialContext: (&net.Dialer{
				Timeout:   5 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
		},
	}

	log.Printf("starting ledger load: url=%s users=%d rounds=%d streams=%d asset=%s amount=%d",
		baseURL, users, rounds, streams, asset, amount)

	var c counters
	start := time.Now()

	streamCtx, stopStreams := context.WithCancel(ctx)
	defer stopStreams()
	streamGroup, streamCtx := errgroup.WithContext(streamCtx)
	for i := 0; i < streams; i++ {
		streamGroup.Go(func() error {
			readStream(streamCtx, client, baseURL+"/events/stream", &c)
			return nil
		})
	}

	go report(ctx, &c, start)

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < users; i++ {
		owner := fmt.Sprintf("load-%d-%d", start.Unix(), i)
		g.Go(func() error {
			return runUser(gctx, client, baseURL, owner, asset, amount, rounds, &c)
		})
	}
	if err := g.Wait(); err != nil && ctx.Err() == nil {
		log.Printf("load aborted: %v", err)
	}

	stopStreams()
	_ = streamGroup.Wait()

	elapsed := time.Since(start)
	fmt.Printf("done: ops=%d rejected=%d failed=%d streamed=%d stream_errs=%d elapsed=%s ops/s=%.2f\n",
		c.ops.Load(), c.rejected.Load(), c.failed.Load(), c.streamed.Load(), c.streamErr.Load(),
		elapsed.Truncate(time.Millisecond), float64(c.ops.Load())/elapsed.Seconds())
}

// runUser creates and funds owner, then deposits and withdraws amount for the given rounds.
func runUser(ctx context.Context, client *http.Client, baseURL, owner, asset string, amount uint64, rounds int, c *counters) error {
	if _, err := post(ctx, client, baseURL+"/users", map[string]any{"owner": owner}); err != nil {
		return err
	}
	status, err := post(ctx, client, baseURL+"/faucet", map[string]any{"account": owner, "asset": asset, "amount": amount})
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return fmt.Errorf("faucet for %s answered %d", owner, status)
	}

	body := map[string]any{"owner": owner, "asset": asset, "amount": amount}
	for i := 0; i < rounds; i++ {
		for _, path := range []string{"/deposit", "/withdraw"} {
			status, err := post(ctx, client, baseURL+path, body)
			switch {
			case err != nil:
				if ctx.Err() != nil {
					return nil
				}
				c.failed.Add(1)
			case status == http.StatusOK:
				c.ops.Add(1)
			case status < http.StatusInternalServerError:
				c.rejected.Add(1)
			default:
				c.failed.Add(1)
			}
		}
	}
	return nil
}

func post(ctx context.Context, client *http.Client, url string, body any) (int, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = bufio.NewReader(resp.Body).WriteTo(noopWriter{})
	return resp.StatusCode, nil
}

type noopWriter struct{}

func (noopWriter) Write(p []byte) (int, error) { return len(p), nil }

// readStream counts ledger events until ctx is done.
func readStream(ctx context.Context, client *http.Client, url string, c *counters) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		c.streamErr.Add(1)
		return
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() == nil {
			c.streamErr.Add(1)
		}
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		c.streamErr.Add(1)
		return
	}

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		if strings.HasPrefix(scanner.Text(), "event: ledger") {
			c.streamed.Add(1)
		}
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		c.streamErr.Add(1)
	}
}

func report(ctx context.Context, c *counters, start time.Time) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			log.Printf("status: ops=%d rejected=%d failed=%d streamed=%d elapsed=%s",
				c.ops.Load(), c.rejected.Load(), c.failed.Load(), c.streamed.Load(),
				time.Since(start).Truncate(time.Second))
		}
	}
}
