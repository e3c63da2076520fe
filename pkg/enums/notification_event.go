package enums

import "fmt"

// NotificationEvent names the invoice lifecycle events fanned out to
// collaborators.
type NotificationEvent string

const (
	NotificationEventInvoiceSent      NotificationEvent = "invoice_sent"
	NotificationEventInvoiceViewed    NotificationEvent = "invoice_viewed"
	NotificationEventInvoicePaid      NotificationEvent = "invoice_paid"
	NotificationEventInvoiceOverdue   NotificationEvent = "invoice_overdue"
	NotificationEventInvoiceCancelled NotificationEvent = "invoice_cancelled"
)

var validNotificationEvents = []NotificationEvent{
	NotificationEventInvoiceSent,
	NotificationEventInvoiceViewed,
	NotificationEventInvoicePaid,
	NotificationEventInvoiceOverdue,
	NotificationEventInvoiceCancelled,
}

// String implements fmt.Stringer.
func (n NotificationEvent) String() string {
	return string(n)
}

// IsValid reports whether the value is a known NotificationEvent.
func (n NotificationEvent) IsValid() bool {
	for _, candidate := range validNotificationEvents {
		if candidate == n {
			return true
		}
	}
	return false
}

// ParseNotificationEvent converts the raw string to NotificationEvent.
func ParseNotificationEvent(value string) (NotificationEvent, error) {
	for _, candidate := range validNotificationEvents {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid notification event %q", value)
}
