package booking

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ComputeInvoiceAmounts applies a tax rate given in basis points, rounding
// half up to the cent.
func ComputeInvoiceAmounts(priceCents, taxRateBPS int64) (amount, tax, total int64) {
	amount = priceCents
	tax = (priceCents*taxRateBPS + 5000) / 10000
	return amount, tax, amount + tax
}

// NewInvoiceNumber returns INV-YYYYMMDD-XXXXXXXX. Uniqueness is enforced by
// the invoices table; a collision aborts the transaction as transient.
func NewInvoiceNumber(at time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
	return fmt.Sprintf("INV-%s-%s", at.Format("20060102"), suffix)
}

func invoiceDescription(serviceName, doctorName string, start time.Time) string {
	return fmt.Sprintf("%s with Dr. %s on %s", serviceName, doctorName, start.Format("2006-01-02 15:04"))
}
