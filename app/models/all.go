package models

// All lists every persisted record, in dependency order, for AutoMigrate.
func All() []any {
	return []any{
		&User{},
		&ProviderProfile{},
		&Lead{},
		&Proposal{},
		&Conversation{},
		&LeadView{},
		&Subscription{},
		&PaymentRecord{},
		&WebhookEvent{},
		&AccessToken{},
		&Notification{},
		&OutboxEvent{},
		&DispatchLedger{},
	}
}
