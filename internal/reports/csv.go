package reports

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tutorbill/tutorbill-backend/pkg/db/models"
)

const maxCSVDescriptionLen = 200

// csvHeader is the fixed export schema. Column order is part of the
// contract with downstream spreadsheets; do not reorder.
var csvHeader = []string{
	"id",
	"student",
	"parent",
	"amount",
	"status",
	"due_date",
	"sent_at",
	"viewed_at",
	"paid_at",
	"description",
	"subject",
	"created_at",
}

// WriteCSV renders the invoices in export order, one row per invoice plus
// the header. Unset timestamps render as empty strings; names missing from
// the lookup fall back to the raw id.
func WriteCSV(w io.Writer, invoices []models.Invoice, names map[uuid.UUID]string) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(csvHeader); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for i := range invoices {
		if err := writer.Write(csvRow(&invoices[i], names)); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	writer.Flush()
	return writer.Error()
}

func csvRow(invoice *models.Invoice, names map[uuid.UUID]string) []string {
	subject := ""
	if invoice.Enrollment != nil && invoice.Enrollment.Subject != nil {
		subject = invoice.Enrollment.Subject.Name
	}
	return []string{
		invoice.ID.String(),
		nameOrID(names, invoice.StudentID),
		nameOrID(names, invoice.ParentID),
		invoice.Amount.StringFixed(2),
		invoice.Status.Label(),
		invoice.DueDate.Format(dateLayout),
		formatTimestamp(invoice.SentAt),
		formatTimestamp(invoice.ViewedAt),
		formatTimestamp(invoice.PaidAt),
		sanitizeDescription(invoice.Description),
		subject,
		invoice.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func nameOrID(names map[uuid.UUID]string, id uuid.UUID) string {
	if name, ok := names[id]; ok && name != "" {
		return name
	}
	return id.String()
}

func formatTimestamp(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

// sanitizeDescription strips newlines and caps the length so a single cell
// cannot break row structure in naive consumers.
func sanitizeDescription(description string) string {
	replacer := strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ")
	clean := replacer.Replace(description)
	runes := []rune(clean)
	if len(runes) > maxCSVDescriptionLen {
		return string(runes[:maxCSVDescriptionLen])
	}
	return clean
}
