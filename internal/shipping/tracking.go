package shipping

import (
	"context"
	"errors"
)

var ErrShipmentNotFound = errors.New("shipment not found")

type TrackingEvent struct {
	Date     string `json:"date"`
	Status   string `json:"status"`
	Activity string `json:"activity"`
	Location string `json:"location"`
}

// Tracking is a carrier-neutral view of a shipment's progress.
type Tracking struct {
	AWB           string          `json:"awb_code"`
	Courier       string          `json:"courier_name,omitempty"`
	CurrentStatus string          `json:"current_status"`
	Origin        string          `json:"origin,omitempty"`
	Destination   string          `json:"destination,omitempty"`
	ETA           string          `json:"estimated_delivery,omitempty"`
	DeliveredAt   *string         `json:"delivered_at,omitempty"`
	History       []TrackingEvent `json:"history"`
}

type Tracker interface {
	TrackByAWB(ctx context.Context, awb string) (Tracking, error)
}
