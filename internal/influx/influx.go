// Package influx records gas sensor telemetry in InfluxDB.  Writes are
// batched and non-blocking; losing telemetry never affects device state.
package influx

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/BrandonDHaskell/Vesta/server/internal/config"
	"github.com/BrandonDHaskell/Vesta/server/internal/logger"
	"github.com/BrandonDHaskell/Vesta/server/internal/vesta/types"
)

const (
	defaultConnectTimeout = 10 * time.Second
	gasMeasurement        = "gas_reading"
)

var (
	ErrDisabled         = errors.New("influxdb: disabled in configuration")
	ErrConnectionFailed = errors.New("influxdb: connection failed")
)

type pointWriter interface {
	WritePoint(p *write.Point)
}

// Recorder writes one point per accepted gas reading.
type Recorder struct {
	client influxdb2.Client
	writer pointWriter
	flush  func()

	mu     sync.RWMutex
	closed bool
}

// Connect pings the server and sets up a batching write API.
func Connect(ctx context.Context, cfg config.InfluxConfig) (*Recorder, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token,
		influxdb2.DefaultOptions().SetBatchSize(100).SetFlushInterval(1000))

	pingCtx, cancel := context.WithTimeout(ctx, defaultConnectTimeout)
	defer cancel()

	healthy, err := client.Ping(pingCtx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: ping failed: %w", ErrConnectionFailed, err)
	}
	if !healthy {
		client.Close()
		return nil, fmt.Errorf("%w: server not healthy", ErrConnectionFailed)
	}

	writeAPI := client.WriteAPI(cfg.Org, cfg.Bucket)
	go logWriteErrors(writeAPI)

	return &Recorder{client: client, writer: writeAPI, flush: writeAPI.Flush}, nil
}

func logWriteErrors(w api.WriteAPI) {
	for err := range w.Errors() {
		logger.WarnKV(context.Background(), "influxdb write failed", "error", err)
	}
}

// RecordReading queues a point for the reading st.LastValue taken at at.
// at is the reading's own time; a late reading keeps its place in the
// series instead of landing on the newest point.
func (r *Recorder) RecordReading(_ context.Context, st types.GasReadingState, at time.Time) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return
	}
	r.writer.WritePoint(gasPoint(st, at))
}

// Close flushes pending points and closes the client.
func (r *Recorder) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	r.mu.Unlock()

	if r.flush != nil {
		r.flush()
	}
	if r.client != nil {
		r.client.Close()
	}
}

func gasPoint(st types.GasReadingState, at time.Time) *write.Point {
	if at.IsZero() {
		at = st.LastEventAt
	}
	return write.NewPoint(
		gasMeasurement,
		map[string]string{
			"device_id": st.DeviceID,
			"status":    string(st.Status),
		},
		map[string]interface{}{
			"value":  st.LastValue,
			"fan_on": st.FanOn,
		},
		at,
	)
}
