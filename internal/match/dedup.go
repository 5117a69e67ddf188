/**
 * @description
 * Dedup key computation. A user-facing scan event and the bank posting for
 * the same purchase arrive seconds to minutes apart, so identity cannot be
 * an exact timestamp. The key hashes (user, merchant, cents-exact amount,
 * 10-minute time bucket): tight enough that two distinct purchases at the
 * same merchant stay distinct, loose enough that posting lag does not split
 * one purchase in two.
 */

package match

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// dedupBucketSeconds is the width of the time bucket the occurrence
// timestamp is floored into.
const dedupBucketSeconds = 600

// ComputeDedupKey derives the stable identifier for "the same real-world
// purchase" from the user, the matched merchant, the amount and the time it
// occurred. Deterministic: the same inputs always produce the same key, and
// 12.5 vs 12.50 produce the same key because the amount is pinned to two
// decimals before hashing.
func ComputeDedupKey(userID, merchantID uuid.UUID, amount float64, occurredAt time.Time) string {
	bucket := occurredAt.Unix() / dedupBucketSeconds
	if occurredAt.Unix() < 0 && occurredAt.Unix()%dedupBucketSeconds != 0 {
		// Go integer division truncates toward zero; pre-epoch timestamps
		// need an explicit floor to keep buckets contiguous.
		bucket--
	}

	material := fmt.Sprintf("%s:%s:%s:%d",
		userID, merchantID, strconv.FormatFloat(amount, 'f', 2, 64), bucket)

	sum := sha256.Sum256([]byte(material))
	return hex.EncodeToString(sum[:])
}
