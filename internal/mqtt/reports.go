package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/BrandonDHaskell/Vesta/server/internal/logger"
	"github.com/BrandonDHaskell/Vesta/server/internal/vesta/service"
	"github.com/BrandonDHaskell/Vesta/server/internal/vesta/types"
)

// Ingester is the engine entry point.
type Ingester interface {
	Ingest(ctx context.Context, raw types.RawReport) (service.Outcome, error)
}

// Subscriber is the part of Client a ReportSubscriber needs.
type Subscriber interface {
	Subscribe(topic string, qos byte, handler MessageHandler) error
}

// ReportSubscriber feeds device reports from the broker into the engine.
type ReportSubscriber struct {
	sub    Subscriber
	engine Ingester
	topics Topics
	qos    byte
	ctx    context.Context
}

func NewReportSubscriber(ctx context.Context, sub Subscriber, engine Ingester, topics Topics, qos byte) *ReportSubscriber {
	return &ReportSubscriber{
		sub:    sub,
		engine: engine,
		topics: topics,
		qos:    qos,
		ctx:    logger.WithName(ctx, "mqtt-reports"),
	}
}

// Start subscribes to every device report topic.
func (s *ReportSubscriber) Start() error {
	return s.sub.Subscribe(s.topics.AllReports(), s.qos, s.Handle)
}

// Handle decodes one report.  The topic supplies device id and type when
// the payload leaves them out; a payload that names a different device is
// rejected.
func (s *ReportSubscriber) Handle(topic string, payload []byte) error {
	deviceID, reportType, ok := s.topics.ParseReport(topic)
	if !ok {
		return fmt.Errorf("%w: unexpected topic %q", types.ErrValidation, topic)
	}

	var raw types.RawReport
	if err := json.Unmarshal(payload, &raw); err != nil {
		return fmt.Errorf("%w: decode report on %s: %v", types.ErrValidation, topic, err)
	}

	if raw.DeviceID == "" {
		raw.DeviceID = deviceID
	} else if raw.DeviceID != deviceID {
		return fmt.Errorf("%w: payload device %q does not match topic device %q",
			types.ErrValidation, raw.DeviceID, deviceID)
	}
	if raw.Type == "" {
		raw.Type = reportType
	}

	_, err := s.engine.Ingest(s.ctx, raw)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, types.ErrStaleEvent), errors.Is(err, types.ErrLockedOut):
		// Expected outcomes, already logged by the engine where useful.
		return nil
	default:
		return err
	}
}
