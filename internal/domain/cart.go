package domain

import "time"

// Cart is a value aggregate: Items and Total are rebuilt on every read
// after price reconciliation, only ID/UserID/UpdatedAt are stored.
type Cart struct {
	ID        string     `bson:"_id,omitempty"`
	UserID    string     `bson:"user_id"`
	Items     []LineItem `bson:"-"`
	UpdatedAt time.Time  `bson:"updated_at"`
	Total     float64    `bson:"-"`
}

type LineItem struct {
	ID        string    `bson:"_id,omitempty"`
	CartID    string    `bson:"cart_id"`
	ProductID int64     `bson:"product_id"`
	Quantity  int       `bson:"quantity"`
	UnitPrice float64   `bson:"unit_price"`
	AddedAt   time.Time `bson:"added_at"`
}
