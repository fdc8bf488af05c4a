package models

// All lists every persisted model, in dependency order, for AutoMigrate in
// sqlite mode and tests. Postgres schemas come from the goose migrations.
func All() []any {
	return []any{
		&Product{},
		&Coupon{},
		&StockLedger{},
		&StockMovement{},
		&StockAlert{},
		&StockReservation{},
		&Order{},
		&OrderItem{},
		&OrderTimelineEntry{},
		&ReturnRequest{},
		&Payment{},
		&Refund{},
		&OutboxEvent{},
		&OutboxDLQ{},
	}
}
