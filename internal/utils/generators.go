package utils

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"time"
)

// GenerateReference builds a payment reference unique across retries of the
// same purchase. The gateway echoes it back on every notification, so it
// doubles as the settlement idempotency key.
func GenerateReference(raffleID string) string {
	timestamp := time.Now().Unix()
	randomNum, _ := rand.Int(rand.Reader, big.NewInt(999999999))
	return fmt.Sprintf("RIFA-%s-%d-%09d", raffleID, timestamp, randomNum.Int64())
}

// GenerateInvoiceFallback produces a local invoice id for transactions the
// gateway never assigned one to.
func GenerateInvoiceFallback() string {
	timestamp := time.Now().Unix()
	randomNum, _ := rand.Int(rand.Reader, big.NewInt(999999))
	return fmt.Sprintf("inv_%d_%06d", timestamp, randomNum.Int64())
}
