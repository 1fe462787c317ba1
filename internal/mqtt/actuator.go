package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/BrandonDHaskell/Vesta/server/internal/vesta/types"
)

// Publisher is the part of Client used for outbound messages.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	PublishAsync(topic string, payload []byte, qos byte, retained bool) error
}

type fanPayload struct {
	On bool      `json:"on"`
	At time.Time `json:"at"`
}

// FanActuator publishes retained fan commands.  It never waits for the
// broker, so it is safe to call with a device lock held.
type FanActuator struct {
	pub    Publisher
	topics Topics
	qos    byte
	now    func() time.Time
}

func NewFanActuator(pub Publisher, topics Topics, qos byte) *FanActuator {
	return &FanActuator{
		pub:    pub,
		topics: topics,
		qos:    qos,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (a *FanActuator) SetFan(_ context.Context, cmd types.FanCommand) error {
	payload, err := json.Marshal(fanPayload{On: cmd.On, At: a.now()})
	if err != nil {
		return fmt.Errorf("marshal fan command: %w", err)
	}
	return a.pub.PublishAsync(a.topics.FanSet(cmd.DeviceID), payload, a.qos, true)
}
