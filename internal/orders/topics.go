package orders

import "strconv"

const (
	TopicOrderPlaced = "storefront.order.placed"
	TopicLowStock    = "storefront.stock.low"
)

// Partition key = order id, so every event of one order stays ordered.
func PartitionKey(orderID int64) []byte { return []byte(strconv.FormatInt(orderID, 10)) }

// ProductKey partitions stock events by product.
func ProductKey(productID int64) []byte { return []byte("product-" + strconv.FormatInt(productID, 10)) }
