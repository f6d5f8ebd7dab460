package shared

import (
	"fmt"
	"hash/fnv"
	"time"
)

// DocNumberLockKey builds the advisory lock key serialising document numbering per prefix and day.
func DocNumberLockKey(prefix string, day time.Time) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(fmt.Sprintf("docnumber:%s:%s", prefix, day.Format("20060102"))))
	return int64(h.Sum64())
}

// OrderLockKey builds the advisory lock key serialising status changes within one fulfillment order.
func OrderLockKey(orderID string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte("order:" + orderID))
	return int64(h.Sum64())
}
