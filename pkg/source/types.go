package source

// OrderItem is one line of an order as returned by the source API.
type OrderItem struct {
	ProductID int64   `json:"product_id"`
	Name      string  `json:"name"`
	Quantity  int     `json:"quantity"`
	Price     float64 `json:"price"`
}

// Order is the base entity of the orders dataset. Item-level datasets
// expand Items into one record per line.
type Order struct {
	OrderID       int64       `json:"order_id"`
	Email         string      `json:"email"`
	Phone         string      `json:"phone"`
	StatusID      int         `json:"order_status_id"`
	DateAdd       int64       `json:"date_add"`
	DateConfirmed int64       `json:"date_confirmed"`
	PaymentMethod string      `json:"payment_method"`
	Currency      string      `json:"currency"`
	PriceTotal    float64     `json:"price_total"`
	DeliveryPrice float64     `json:"delivery_price"`
	Paid          bool        `json:"paid"`
	Items         []OrderItem `json:"items"`
}

// Product is the secondary-detail entity used for item enrichment and
// the base entity of the products dataset.
type Product struct {
	ProductID     int64   `json:"product_id"`
	Name          string  `json:"name"`
	SKU           string  `json:"sku"`
	EAN           string  `json:"ean"`
	Quantity      int     `json:"quantity"`
	Price         float64 `json:"price"`
	PurchasePrice float64 `json:"purchase_price"`
	CategoryID    int64   `json:"category_id"`
}
