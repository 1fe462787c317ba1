package influx

import (
	"context"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BrandonDHaskell/Vesta/server/internal/config"
	"github.com/BrandonDHaskell/Vesta/server/internal/vesta/types"
)

type capture struct{ points []*write.Point }

func (c *capture) WritePoint(p *write.Point) { c.points = append(c.points, p) }

func TestConnectDisabled(t *testing.T) {
	t.Parallel()

	_, err := Connect(context.Background(), config.InfluxConfig{})
	require.ErrorIs(t, err, ErrDisabled)
}

func TestRecordReading(t *testing.T) {
	t.Parallel()

	at := time.Date(2026, 2, 15, 12, 0, 0, 0, time.UTC)
	c := &capture{}
	r := &Recorder{writer: c}

	r.RecordReading(context.Background(), types.GasReadingState{
		DeviceID:    "gas-kitchen",
		LastValue:   520,
		Status:      types.GasStatusWarning,
		LastEventAt: at,
		FanOn:       true,
	}, at)

	require.Len(t, c.points, 1)
	p := c.points[0]
	assert.Equal(t, "gas_reading", p.Name())
	assert.True(t, p.Time().Equal(at))

	tags := map[string]string{}
	for _, tag := range p.TagList() {
		tags[tag.Key] = tag.Value
	}
	assert.Equal(t, map[string]string{"device_id": "gas-kitchen", "status": "warning"}, tags)

	fields := map[string]interface{}{}
	for _, f := range p.FieldList() {
		fields[f.Key] = f.Value
	}
	assert.Equal(t, 520.0, fields["value"])
	assert.Equal(t, true, fields["fan_on"])
}

func TestRecordAfterCloseIsDropped(t *testing.T) {
	t.Parallel()

	c := &capture{}
	r := &Recorder{writer: c}
	r.Close()
	r.Close()

	r.RecordReading(context.Background(), types.GasReadingState{DeviceID: "gas-kitchen"}, time.Now())
	assert.Empty(t, c.points)
}

func TestRecordReading_LateReadingKeepsItsOwnTime(t *testing.T) {
	t.Parallel()

	newest := time.Date(2026, 2, 15, 12, 0, 10, 0, time.UTC)
	late := newest.Add(-3 * time.Second)
	c := &capture{}
	r := &Recorder{writer: c}

	st := types.GasReadingState{DeviceID: "gas-kitchen", LastValue: 410, Status: types.GasStatusNormal, LastEventAt: newest}
	r.RecordReading(context.Background(), st, newest)
	st.LastValue = 380
	r.RecordReading(context.Background(), st, late)

	require.Len(t, c.points, 2)
	assert.True(t, c.points[0].Time().Equal(newest))
	assert.True(t, c.points[1].Time().Equal(late), "late reading must not overwrite the newest point")
}
