package utils

import (
	"crypto/rand"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Crockford base32 without I, L, O and U, so codes read back over the phone
// are not misheard.
const codeAlphabet = "0123456789ABCDEFGHJKMNPQRSTVWXYZ"

const codeRandomLen = 6

// GenerateOrderCode returns a customer-facing order code of the form
// PBT-YYMMDD-XXXXXX, dated in Manila time.
func GenerateOrderCode(now time.Time) string {
	return "PBT-" + now.In(manila).Format("060102") + "-" + randomCode(now)
}

var manila = time.FixedZone("PHT", 8*3600)

func randomCode(now time.Time) string {
	buf := make([]byte, codeRandomLen)
	if _, err := rand.Read(buf); err != nil {
		// entropy failure: derive from the clock rather than fail checkout
		n := now.UnixNano()
		for i := range buf {
			buf[i] = byte(n >> (i * 5))
		}
	}
	var sb strings.Builder
	sb.Grow(codeRandomLen)
	for _, b := range buf {
		sb.WriteByte(codeAlphabet[int(b)%len(codeAlphabet)])
	}
	return sb.String()
}

// TransactionID builds a gateway transaction id that stays traceable to the
// order: ORD{orderID}-{unix millis}.
func TransactionID(orderID uint, now time.Time) string {
	return fmt.Sprintf("ORD%d-%d", orderID, now.UnixMilli())
}

// OrderIDFromTransaction recovers the order id embedded by TransactionID.
func OrderIDFromTransaction(txnID string) (uint, bool) {
	rest, ok := strings.CutPrefix(txnID, "ORD")
	if !ok {
		return 0, false
	}
	idPart, _, ok := strings.Cut(rest, "-")
	if !ok {
		return 0, false
	}
	id, err := strconv.ParseUint(idPart, 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	return uint(id), true
}
