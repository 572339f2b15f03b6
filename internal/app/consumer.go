package app

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/mesa247/ledger-service/internal/domain"
)

// ProcessorEventConsumer handles processor events arriving over the message
// queue, feeding them through the same ingestion path as the HTTP endpoint.
type ProcessorEventConsumer struct {
	service *Service
}

func NewProcessorEventConsumer(service *Service) *ProcessorEventConsumer {
	return &ProcessorEventConsumer{service: service}
}

// HandleMessage returns true to acknowledge the delivery. Malformed payloads
// and validation failures are acknowledged and dropped (a redelivery cannot
// fix them); transient errors are requeued.
func (c *ProcessorEventConsumer) HandleMessage(body []byte) bool {
	var req domain.IngestEventRequest
	if err := json.Unmarshal(body, &req); err != nil {
		log.Printf("level=warn component=event-consumer msg=\"failed to unmarshal payload\" err=%v", err)
		return true
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	isNew, _, err := c.service.IngestEvent(ctx, req)
	if err != nil {
		var domainErr *domain.Error
		if errors.As(err, &domainErr) {
			log.Printf("level=warn component=event-consumer msg=\"rejected invalid event\" event_id=%s code=%s err=%v",
				req.EventID, domainErr.Code, err)
			return true
		}
		log.Printf("level=error component=event-consumer msg=\"processing error; requeueing\" event_id=%s err=%v", req.EventID, err)
		return false
	}

	if !isNew {
		log.Printf("level=info component=event-consumer msg=\"duplicate event acknowledged\" event_id=%s", req.EventID)
	}
	return true
}
