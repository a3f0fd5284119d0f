package influxdb

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/nerrad567/lorawatch/internal/infrastructure/config"
)

const (
	defaultConnectTimeout = 10 * time.Second
	defaultPingTimeout    = 5 * time.Second
	closeWaitTimeout      = 2 * time.Second

	defaultBatchSize     = 100
	defaultFlushInterval = 10 // seconds
	defaultMeasurement   = "uplink"
)

// Stats reports exporter counters.
type Stats struct {
	Points    int64  `json:"points"`
	Errors    int64  `json:"errors"`
	LastError string `json:"last_error,omitempty"`
}

// Client exports per-uplink telemetry points to InfluxDB v2.
//
// Points are queued on the client's non-blocking write API and sent in
// batches. Failed batches are counted and reported to the SetOnError
// callback wrapped in ErrWriteFailed.
//
// Thread Safety: All methods are safe for concurrent use.
type Client struct {
	client      influxdb2.Client
	writeAPI    api.WriteAPI
	measurement string

	connected  atomic.Bool
	closeOnce  sync.Once
	errorsDone chan struct{}

	points atomic.Int64
	errs   atomic.Int64

	mu        sync.RWMutex
	lastError string
	onError   func(err error)
}

// Connect creates the client and verifies the server answers a ping.
//
// Parameters:
//   - ctx: Bounds the initial ping (capped at 10s)
//   - cfg: InfluxDB configuration from config.yaml
//
// Returns:
//   - *Client: Connected client ready for WriteUplink
//   - error: ErrDisabled when turned off, ErrConnectionFailed when the
//     ping fails
func Connect(ctx context.Context, cfg config.InfluxDBConfig) (*Client, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	flushInterval := cfg.FlushInterval
	if flushInterval <= 0 {
		flushInterval = defaultFlushInterval
	}
	measurement := cfg.Measurement
	if measurement == "" {
		measurement = defaultMeasurement
	}

	// #nosec G115 -- both values are positive after the defaults above
	opts := influxdb2.DefaultOptions().
		SetBatchSize(uint(batchSize)).
		SetFlushInterval(uint(time.Duration(flushInterval) * time.Second / time.Millisecond))
	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, opts)

	pingCtx, cancel := context.WithTimeout(ctx, defaultConnectTimeout)
	defer cancel()

	healthy, err := client.Ping(pingCtx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: ping %s: %w", ErrConnectionFailed, cfg.URL, err)
	}
	if !healthy {
		client.Close()
		return nil, fmt.Errorf("%w: %s not healthy", ErrConnectionFailed, cfg.URL)
	}

	c := &Client{
		client:      client,
		writeAPI:    client.WriteAPI(cfg.Org, cfg.Bucket),
		measurement: measurement,
		errorsDone:  make(chan struct{}),
	}
	c.connected.Store(true)

	go c.watchErrors(c.writeAPI.Errors())

	return c, nil
}

// watchErrors drains async write failures until the write API closes.
func (c *Client) watchErrors(errorsCh <-chan error) {
	defer close(c.errorsDone)
	for err := range errorsCh {
		c.errs.Add(1)
		wrapped := fmt.Errorf("%w: %w", ErrWriteFailed, err)

		c.mu.Lock()
		c.lastError = err.Error()
		callback := c.onError
		c.mu.Unlock()

		if callback != nil {
			callback(wrapped)
		}
	}
}

// Close flushes pending points and releases the client. Further writes are
// dropped. Safe to call more than once.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.connected.Store(false)
		c.writeAPI.Flush()
		c.client.Close()
		// Closing the client closes the write API's error channel.
		select {
		case <-c.errorsDone:
		case <-time.After(closeWaitTimeout):
		}
	})
	return nil
}

// HealthCheck pings the server.
func (c *Client) HealthCheck(ctx context.Context) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}

	checkCtx, cancel := context.WithTimeout(ctx, defaultPingTimeout)
	defer cancel()

	healthy, err := c.client.Ping(checkCtx)
	if err != nil {
		return fmt.Errorf("influxdb health check: %w", err)
	}
	if !healthy {
		return fmt.Errorf("influxdb health check: server not healthy")
	}
	return nil
}

// IsConnected reports whether the client accepts writes.
func (c *Client) IsConnected() bool {
	return c.connected.Load()
}

// SetOnError sets the callback for async write failures.
func (c *Client) SetOnError(callback func(err error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onError = callback
}

// Flush sends every queued point now. No-op after Close.
func (c *Client) Flush() {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.Flush()
}

// Stats returns a snapshot of the exporter counters.
func (c *Client) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Stats{
		Points:    c.points.Load(),
		Errors:    c.errs.Load(),
		LastError: c.lastError,
	}
}
