package query

import "github.com/example/marketplace-orders/internal/readmodel"

type OrderItemReadModel = readmodel.OrderItemReadModel
type OrderReadModel = readmodel.OrderReadModel
