package providers

import (
	"context"

	"github.com/zatekoja/insurance-eligibility/backend/internal/domain/entities"
)

// EventPublisher publishes eligibility events
type EventPublisher interface {
	Publish(ctx context.Context, channel string, event *entities.EligibilityEvent) error
}

// EventBus defines the interface for publishing and subscribing to events
type EventBus interface {
	EventPublisher

	// Subscribe subscribes to events on a channel
	Subscribe(ctx context.Context, channel string) (<-chan *entities.EligibilityEvent, error)

	// Unsubscribe unsubscribes from a channel
	Unsubscribe(ctx context.Context, channel string) error

	// Close closes the event bus and all subscriptions
	Close() error
}

// EventChannel constants for eligibility events
const (
	// EventChannelEligibility carries every eligibility event
	EventChannelEligibility = "eligibility:events"

	// EventChannelPatientPrefix is the prefix for patient-specific channels
	EventChannelPatientPrefix = "eligibility:patient:"
)

// GetPatientChannel returns the channel name for a specific patient
func GetPatientChannel(patientID string) string {
	return EventChannelPatientPrefix + patientID
}

// EventChannels lists the channels an event is published on
func EventChannels(event *entities.EligibilityEvent) []string {
	channels := []string{EventChannelEligibility}
	if event.PatientID != nil && *event.PatientID != "" {
		channels = append(channels, GetPatientChannel(*event.PatientID))
	}
	return channels
}
