package services

import (
	"context"
	"time"

	"github.com/zatekoja/insurance-eligibility/backend/internal/domain/entities"
	"github.com/zatekoja/insurance-eligibility/backend/internal/domain/providers"
	"github.com/zatekoja/insurance-eligibility/backend/internal/infrastructure/observability"
)

const eventPublishTimeout = 2 * time.Second

// publishEvent announces a recorded change on every channel it belongs to.
// Failures are logged; the audit row is already committed.
func publishEvent(ctx context.Context, publisher providers.EventPublisher, eventType entities.EligibilityEventType, check *entities.EligibilityCheck, at time.Time) {
	if publisher == nil {
		return
	}

	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), eventPublishTimeout)
	defer cancel()

	event := entities.NewEligibilityEvent(eventType, check, at)
	for _, channel := range providers.EventChannels(event) {
		if err := publisher.Publish(pubCtx, channel, event); err != nil {
			observability.LoggerFromContext(ctx).Warn().Err(err).
				Int64("check_id", check.ID).
				Str("channel", channel).
				Str("event_type", string(eventType)).
				Msg("failed to publish eligibility event")
		}
	}
}
