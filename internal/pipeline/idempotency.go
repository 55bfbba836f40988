package pipeline

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"

	"execution-core/internal/schema"
)

// IdempotencyKey fingerprints an intent. The hash covers a canonical
// little-endian serialization of the intent fields plus the strategy
// nonce, so identical logical decisions hash identically across process
// restarts and never depend on object identity or wall-clock.
func IdempotencyKey(intent schema.OrderIntent) string {
	var buf [38]byte
	binary.LittleEndian.PutUint32(buf[0:4], uint32(intent.SymbolID))
	binary.LittleEndian.PutUint32(buf[4:8], intent.StrategyID)
	binary.LittleEndian.PutUint16(buf[8:10], uint16(intent.Side))
	binary.LittleEndian.PutUint16(buf[10:12], uint16(intent.Type))
	binary.LittleEndian.PutUint16(buf[12:14], uint16(intent.TimeInForce))
	binary.LittleEndian.PutUint64(buf[14:22], uint64(intent.Price))
	binary.LittleEndian.PutUint64(buf[22:30], uint64(intent.Qty))
	binary.LittleEndian.PutUint64(buf[30:38], intent.Nonce)
	sum := sha256.Sum256(buf[:])
	return hex.EncodeToString(sum[:])
}

// ClientOrderID derives the ledger key from an idempotency key. The
// prefix keeps repeat intents resolving to the same order.
func ClientOrderID(idempotencyKey string) string {
	if len(idempotencyKey) < 16 {
		return "ord-" + idempotencyKey
	}
	return "ord-" + idempotencyKey[:16]
}
