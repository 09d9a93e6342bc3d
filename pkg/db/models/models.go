package models

// All lists every persisted model, in dependency order, for AutoMigrate in
// development and tests.
func All() []any {
	return []any{
		&Tenant{},
		&Variant{},
		&StockItem{},
		&Balance{},
		&BalanceEntry{},
		&Order{},
		&Deposit{},
		&Rent{},
		&OutboxEvent{},
	}
}
