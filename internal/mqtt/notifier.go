package mqtt

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/BrandonDHaskell/Vesta/server/internal/vesta/types"
)

// Notifier delivers alerts to a recipient's notify topic.  Publish waits
// for the broker so the dispatcher sees delivery failures and can retry.
type Notifier struct {
	pub    Publisher
	topics Topics
	qos    byte
}

func NewNotifier(pub Publisher, topics Topics, qos byte) *Notifier {
	return &Notifier{pub: pub, topics: topics, qos: qos}
}

func (n *Notifier) Notify(ctx context.Context, recipient string, a types.AlertRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}
	return n.pub.Publish(n.topics.Notify(recipient), payload, n.qos, false)
}
