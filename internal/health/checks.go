package health

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// probeHost is where every network probe connects; applications are local.
const probeHost = "localhost"

// ProcessCheck is healthy iff the application's process is alive.
type ProcessCheck struct {
	Alive func() bool
}

func (ProcessCheck) Kind() Kind { return KindProcess }

func (c ProcessCheck) Run(context.Context) Result {
	if c.Alive != nil && c.Alive() {
		return Result{Status: StatusHealthy}
	}
	return unhealthy("Process not running")
}

// TCPCheck is healthy iff localhost:Port accepts a connection within Timeout.
type TCPCheck struct {
	Port    int
	Timeout time.Duration
}

func (TCPCheck) Kind() Kind { return KindTCP }

func (c TCPCheck) Run(ctx context.Context) Result {
	d := net.Dialer{Timeout: c.Timeout}
	start := time.Now()
	conn, err := d.DialContext(ctx, "tcp", net.JoinHostPort(probeHost, strconv.Itoa(c.Port)))
	if err != nil {
		return unhealthy(dialReason(err))
	}
	elapsed := time.Since(start)
	_ = conn.Close()
	return Result{Status: StatusHealthy, ResponseTimeMS: millis(elapsed)}
}

// HTTPCheck is healthy iff GET http://localhost:Port/Endpoint answers with
// ExpectedStatus within Timeout.
type HTTPCheck struct {
	Port           int
	Endpoint       string
	Timeout        time.Duration
	ExpectedStatus int
	Client         *http.Client // optional; a client with Timeout is used when nil
}

func (HTTPCheck) Kind() Kind { return KindHTTP }

// URL returns the probed address.
func (c HTTPCheck) URL() string {
	return "http://" + net.JoinHostPort(probeHost, strconv.Itoa(c.Port)) + c.Endpoint
}

func (c HTTPCheck) Run(ctx context.Context) Result {
	client := c.Client
	if client == nil {
		client = &http.Client{Timeout: c.Timeout}
	}
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.URL(), nil)
	if err != nil {
		return unhealthy(err.Error())
	}
	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		var ue *url.Error
		if errors.As(err, &ue) {
			return unhealthy(dialReason(ue.Err))
		}
		return unhealthy(err.Error())
	}
	elapsed := time.Since(start)
	_ = resp.Body.Close()

	res := Result{ResponseTimeMS: millis(elapsed), StatusCode: resp.StatusCode}
	if resp.StatusCode == c.ExpectedStatus {
		res.Status = StatusHealthy
		return res
	}
	res.Status = StatusUnhealthy
	res.Error = fmt.Sprintf("Expected %d, got %d", c.ExpectedStatus, resp.StatusCode)
	return res
}

// dialReason shortens network errors to the part an operator cares about.
func dialReason(err error) string {
	var op *net.OpError
	if errors.As(err, &op) && op.Err != nil {
		return op.Err.Error()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timed out"
	}
	return err.Error()
}
