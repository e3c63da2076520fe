package enums

import "fmt"

// InvoiceStatus is the lifecycle state of an invoice.
type InvoiceStatus string

const (
	InvoiceStatusDraft     InvoiceStatus = "draft"
	InvoiceStatusSent      InvoiceStatus = "sent"
	InvoiceStatusViewed    InvoiceStatus = "viewed"
	InvoiceStatusPaid      InvoiceStatus = "paid"
	InvoiceStatusCancelled InvoiceStatus = "cancelled"
	InvoiceStatusOverdue   InvoiceStatus = "overdue"
)

var validInvoiceStatuses = []InvoiceStatus{
	InvoiceStatusDraft,
	InvoiceStatusSent,
	InvoiceStatusViewed,
	InvoiceStatusPaid,
	InvoiceStatusCancelled,
	InvoiceStatusOverdue,
}

// invoiceTransitions encodes the legal edges of the invoice state machine.
// Terminal states (paid, cancelled) have no outgoing edges.
var invoiceTransitions = map[InvoiceStatus][]InvoiceStatus{
	InvoiceStatusDraft:   {InvoiceStatusSent, InvoiceStatusCancelled},
	InvoiceStatusSent:    {InvoiceStatusViewed, InvoiceStatusPaid, InvoiceStatusCancelled, InvoiceStatusOverdue},
	InvoiceStatusViewed:  {InvoiceStatusPaid, InvoiceStatusCancelled, InvoiceStatusOverdue},
	InvoiceStatusOverdue: {InvoiceStatusPaid, InvoiceStatusCancelled},
}

var invoiceStatusLabels = map[InvoiceStatus]string{
	InvoiceStatusDraft:     "Draft",
	InvoiceStatusSent:      "Sent",
	InvoiceStatusViewed:    "Viewed",
	InvoiceStatusPaid:      "Paid",
	InvoiceStatusCancelled: "Cancelled",
	InvoiceStatusOverdue:   "Overdue",
}

// String implements fmt.Stringer.
func (s InvoiceStatus) String() string {
	return string(s)
}

// Label returns the human-readable display label used in exports.
func (s InvoiceStatus) Label() string {
	if label, ok := invoiceStatusLabels[s]; ok {
		return label
	}
	return string(s)
}

// IsValid reports whether the value is a known InvoiceStatus.
func (s InvoiceStatus) IsValid() bool {
	for _, candidate := range validInvoiceStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transitions are permitted.
func (s InvoiceStatus) IsTerminal() bool {
	return s == InvoiceStatusPaid || s == InvoiceStatusCancelled
}

// CanTransitionTo reports whether the state machine permits moving to target.
func (s InvoiceStatus) CanTransitionTo(target InvoiceStatus) bool {
	for _, candidate := range invoiceTransitions[s] {
		if candidate == target {
			return true
		}
	}
	return false
}

// OpenInvoiceStatuses are the non-terminal statuses considered by the
// duplicate guard and outstanding-invoice queries.
func OpenInvoiceStatuses() []InvoiceStatus {
	return []InvoiceStatus{
		InvoiceStatusDraft,
		InvoiceStatusSent,
		InvoiceStatusViewed,
		InvoiceStatusOverdue,
	}
}

// ParseInvoiceStatus converts the raw string to InvoiceStatus.
func ParseInvoiceStatus(value string) (InvoiceStatus, error) {
	for _, candidate := range validInvoiceStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid invoice status %q", value)
}
