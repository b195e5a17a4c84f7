package server

import (
	"time"

	"github.com/zeusync/railgrind/internal/core/events/bus"
	"github.com/zeusync/railgrind/internal/core/observability/log"
)

// slowDelivery is the handler time above which a delivery is logged.
const slowDelivery = 2 * time.Millisecond

var _ bus.EventBusObserver = (*deliveryLogger)(nil)

// deliveryLogger logs failed and slow bus deliveries. Registering it also
// turns on the bus metrics served by /stats.
type deliveryLogger struct {
	logger log.Log
	slow   time.Duration
}

func newDeliveryLogger(logger log.Log) *deliveryLogger {
	return &deliveryLogger{logger: logger, slow: slowDelivery}
}

func (o *deliveryLogger) OnPublish(string, string, bus.Event) {}

func (o *deliveryLogger) OnDelivered(topic, eventType string, handlers int, err error, duration time.Duration) {
	fields := []log.Field{
		log.String("topic", topic),
		log.String("event", eventType),
		log.Int("handlers", handlers),
		log.Duration("duration", duration),
	}
	if err != nil {
		o.logger.Warn("event handlers failed", append(fields, log.Error(err))...)
		return
	}
	if duration > o.slow {
		o.logger.Debug("slow event delivery", fields...)
	}
}
