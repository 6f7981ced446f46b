// WebSocket stress test for relay memory and fan-out profiling.
// Spawns N concurrent clients that initialize, watch a session and request
// result lists at a configurable rate. Reports frame counts periodically.
//
// Usage:
//
//	go run scripts/ws-stress/main.go -secret dev-secret                       # 50 clients on one session
//	go run scripts/ws-stress/main.go -secret dev-secret -connections 200 -sessions 10
//	go run scripts/ws-stress/main.go -secret dev-secret -duration 5m -rate 0  # watch only
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/bytedance/sonic"
	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
)

var (
	relayURL    = flag.String("url", "ws://localhost:3005/", "Relay WebSocket URL")
	secret      = flag.String("secret", "", "Shared token secret (HS256)")
	sessionBase = flag.String("session", "stress-session", "Session id prefix")
	sessions    = flag.Int("sessions", 1, "Number of distinct sessions to spread clients over")
	dataType    = flag.String("data-type", "mx:all", "data_type for get_results requests")
	connections = flag.Int("connections", 50, "Number of concurrent WebSocket connections")
	rate        = flag.Int("rate", 1, "get_results requests per second per connection (0 = none)")
	duration    = flag.Duration("duration", 10*time.Minute, "Test duration (0 = run until Ctrl+C)")
	reportSecs  = flag.Int("report", 10, "Report interval in seconds")
	rampUp      = flag.Duration("ramp", 5*time.Second, "Ramp-up time (spread connection creation)")
)

// Global counters
var (
	totalSent      atomic.Int64
	totalResults   atomic.Int64
	totalDetails   atomic.Int64
	totalFailures  atomic.Int64
	totalKeepalive atomic.Int64
	totalErrors    atomic.Int64
	activeConns    atomic.Int64
	connectErrors  atomic.Int64
	disconnections atomic.Int64
)

type frame struct {
	MsgType string `json:"msg_type"`
	Success *bool  `json:"success,omitempty"`
}

func main() {
	flag.Parse()
	if *secret == "" {
		fmt.Fprintln(os.Stderr, "-secret is required")
		os.Exit(2)
	}
	if *sessions < 1 {
		*sessions = 1
	}

	fmt.Println("========================================")
	fmt.Println("  Relay WebSocket Stress Test")
	fmt.Println("========================================")
	fmt.Printf("  URL:          %s\n", *relayURL)
	fmt.Printf("  Sessions:     %d (%s-N)\n", *sessions, *sessionBase)
	fmt.Printf("  Connections:  %d\n", *connections)
	fmt.Printf("  Rate:         %d get_results/s per conn\n", *rate)
	fmt.Printf("  Duration:     %s\n", *duration)
	fmt.Printf("  Ramp-up:      %s\n", *rampUp)
	fmt.Println()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	done := make(chan struct{})
	go reporter(done)

	rampDelay := *rampUp / time.Duration(*connections)
	if rampDelay < time.Millisecond {
		rampDelay = time.Millisecond
	}

	var timeout <-chan time.Time
	if *duration > 0 {
		timeout = time.After(*duration)
	}

	var wg sync.WaitGroup
launch:
	for i := 0; i < *connections; i++ {
		wg.Add(1)
		sessionID := fmt.Sprintf("%s-%d", *sessionBase, i%*sessions)
		go func() {
			defer wg.Done()
			runConnection(sessionID, done)
		}()

		select {
		case sig := <-sigChan:
			fmt.Printf("\nReceived %v during ramp-up - shutting down...\n", sig)
			close(done)
			break launch
		case <-time.After(rampDelay):
		}
	}

	select {
	case <-done:
	case sig := <-sigChan:
		fmt.Printf("\nReceived %v - shutting down...\n", sig)
		close(done)
	case <-timeout:
		fmt.Printf("\nDuration %s reached - shutting down...\n", *duration)
		close(done)
	}

	wg.Wait()
	printFinalSummary()
}

func token() (string, error) {
	now := time.Now()
	return jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"_id": "ws-stress",
		"iat": now.Unix(),
		"exp": now.Add(24 * time.Hour).Unix(),
	}).SignedString([]byte(*secret))
}

func send(conn *websocket.Conn, req map[string]any) error {
	data, err := sonic.Marshal(req)
	if err != nil {
		return err
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return err
	}
	totalSent.Add(1)
	return nil
}

func count(data []byte) {
	if string(data) == "ping" {
		totalKeepalive.Add(1)
		return
	}
	var f frame
	if err := sonic.Unmarshal(data, &f); err != nil {
		totalErrors.Add(1)
		return
	}
	switch f.MsgType {
	case "results":
		totalResults.Add(1)
	case "result_details":
		totalDetails.Add(1)
	case "failure":
		totalFailures.Add(1)
	case "initialize":
		if f.Success != nil && !*f.Success {
			totalFailures.Add(1)
		}
	}
}

func runConnection(sessionID string, done <-chan struct{}) {
	dialer := websocket.Dialer{
		HandshakeTimeout: 5 * time.Second,
	}

	// Reconnect loop
	for {
		select {
		case <-done:
			return
		default:
		}

		conn, _, err := dialer.Dial(*relayURL, nil)
		if err != nil {
			connectErrors.Add(1)
			select {
			case <-done:
				return
			case <-time.After(2 * time.Second):
				continue
			}
		}

		activeConns.Add(1)
		connDone := make(chan struct{})

		go func() {
			defer close(connDone)
			for {
				_, data, err := conn.ReadMessage()
				if err != nil {
					return
				}
				count(data)
			}
		}()

		tok, err := token()
		if err == nil {
			err = send(conn, map[string]any{"request_type": "initialize", "token": tok})
		}
		if err == nil {
			err = send(conn, map[string]any{"request_type": "set_session", "session_id": sessionID})
		}
		if err != nil {
			totalErrors.Add(1)
			_ = conn.Close()
			<-connDone
			activeConns.Add(-1)
			disconnections.Add(1)
			continue
		}

		var tick <-chan time.Time
		var ticker *time.Ticker
		if *rate > 0 {
			ticker = time.NewTicker(time.Second / time.Duration(*rate))
			tick = ticker.C
		}
		stopTicker := func() {
			if ticker != nil {
				ticker.Stop()
			}
		}

	writeLoop:
		for {
			select {
			case <-done:
				stopTicker()
				_ = conn.WriteControl(
					websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "stress test done"),
					time.Now().Add(time.Second),
				)
				_ = conn.Close()
				activeConns.Add(-1)
				return

			case <-connDone:
				stopTicker()
				_ = conn.Close()
				activeConns.Add(-1)
				disconnections.Add(1)
				break writeLoop

			case <-tick:
				err := send(conn, map[string]any{
					"request_type": "get_results",
					"session_id":   sessionID,
					"data_type":    *dataType,
				})
				if err != nil {
					totalErrors.Add(1)
					stopTicker()
					_ = conn.Close()
					activeConns.Add(-1)
					disconnections.Add(1)
					break writeLoop
				}
			}
		}

		select {
		case <-done:
			return
		case <-time.After(time.Second):
		}
	}
}

func reporter(done <-chan struct{}) {
	ticker := time.NewTicker(time.Duration(*reportSecs) * time.Second)
	defer ticker.Stop()

	start := time.Now()
	lastResults := int64(0)
	lastTime := start

	fmt.Println("------------------------------------------------------------------------------")
	fmt.Printf("%-9s %-7s %-9s %-9s %-9s %-8s %-8s %-10s %-8s\n",
		"Elapsed", "Conns", "Sent", "Results", "Details", "Failed", "Errors", "Results/s", "Disconn")
	fmt.Println("------------------------------------------------------------------------------")

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			now := time.Now()
			elapsed := now.Sub(start)
			dt := now.Sub(lastTime).Seconds()

			res := totalResults.Load()
			perSec := float64(res-lastResults) / dt

			etime := fmt.Sprintf("%02d:%02d:%02d",
				int(elapsed.Hours()), int(elapsed.Minutes())%60, int(elapsed.Seconds())%60)

			fmt.Printf("%-9s %-7d %-9d %-9d %-9d %-8d %-8d %-10.0f %-8d\n",
				etime, activeConns.Load(), totalSent.Load(), res, totalDetails.Load(),
				totalFailures.Load(), totalErrors.Load(), perSec, disconnections.Load())

			lastResults = res
			lastTime = now
		}
	}
}

func printFinalSummary() {
	fmt.Println()
	fmt.Println("========================================")
	fmt.Println("  Final Summary")
	fmt.Println("========================================")
	fmt.Printf("  Requests Sent:     %d\n", totalSent.Load())
	fmt.Printf("  Results Frames:    %d\n", totalResults.Load())
	fmt.Printf("  Detail Frames:     %d\n", totalDetails.Load())
	fmt.Printf("  Failure Frames:    %d\n", totalFailures.Load())
	fmt.Printf("  Keepalives:        %d\n", totalKeepalive.Load())
	fmt.Printf("  Errors:            %d\n", totalErrors.Load())
	fmt.Printf("  Connect Errors:    %d\n", connectErrors.Load())
	fmt.Printf("  Disconnections:    %d\n", disconnections.Load())
	fmt.Println()
}
