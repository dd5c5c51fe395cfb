package domain

import "time"

// VendorEventType enumerates order-lifecycle events feeding the performance
// store. Delivery is at-least-once; application must be idempotent on EventID.
type VendorEventType string

const (
	EventAssigned  VendorEventType = "assigned"
	EventResponded VendorEventType = "responded"
	EventDelivered VendorEventType = "delivered"
	EventCancelled VendorEventType = "cancelled"
)

// VendorResponse is the vendor's answer to an RFQ.
type VendorResponse string

const (
	ResponseAccept VendorResponse = "ACCEPT"
	ResponseReject VendorResponse = "REJECT"
)

// VendorEvent is one order-lifecycle command from the external collaborator.
type VendorEvent struct {
	EventID  string
	Type     VendorEventType
	VendorID string
	OrderID  string
	At       time.Time

	// Responded
	Response VendorResponse
	// Responded: seconds between assignment and response, provided by the
	// collaborator which owns both timestamps.
	ResponseSeconds float64
	// Delivered
	Success bool
	// Cancelled
	ByVendor bool
}

// Validate checks the shape of an event before it reaches the store.
func (e VendorEvent) Validate() error {
	if e.EventID == "" || e.VendorID == "" || e.OrderID == "" {
		return ErrInvalidArgument
	}
	switch e.Type {
	case EventAssigned, EventDelivered, EventCancelled:
		return nil
	case EventResponded:
		if e.Response != ResponseAccept && e.Response != ResponseReject {
			return ErrInvalidArgument
		}
		return nil
	default:
		return ErrInvalidArgument
	}
}
