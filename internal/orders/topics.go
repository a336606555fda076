package orders

import "strconv"

const TopicOrderLifecycle = "order.lifecycle"

// Partition key = order_id, so every event of one order stays in order.
func PartitionKey(orderID int64) []byte { return []byte(strconv.FormatInt(orderID, 10)) }
