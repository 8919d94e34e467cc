package shipping

import "context"

type Carrier interface {
	Name() string
	CreateShipment(ctx context.Context, req ShipmentRequest) (*ShipmentResult, error)
	Cancel(ctx context.Context, trackingNumber string) error
	Track(ctx context.Context, trackingNumber string) ([]TrackingEvent, error)
}
