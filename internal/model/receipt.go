package model

import (
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// Receipt is a business-side expense or revenue record. It may exist without
// a bank link (manually entered); once linked the link is immutable unless
// explicitly corrected through an audited write.
type Receipt struct {
	Date                 time.Time
	CreatedAt            time.Time
	Vendor               string
	GrossAmount          decimal.Decimal
	GSTAmount            *decimal.Decimal
	BankingTransactionID *int64
	SplitGroupID         *int64
	ID                   int64
	IsSplitReceipt       bool
	PotentialDuplicate   bool
	VerifiedByEdit       bool
	Description          string
}

var splitMarkerRe = regexp.MustCompile(`(?i)split\s+with\s+#(\d+)`)

// SplitMarker extracts the receipt id referenced by an explicit
// "split with #12345" marker in the description, if present.
func (r *Receipt) SplitMarker() (int64, bool) {
	m := splitMarkerRe.FindStringSubmatch(r.Description)
	if m == nil {
		return 0, false
	}
	id, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

// String implements fmt.Stringer for log output.
func (r *Receipt) String() string {
	return fmt.Sprintf("receipt %d (%s %s $%s)", r.ID, r.Date.Format("2006-01-02"), r.Vendor, r.GrossAmount.StringFixed(2))
}
