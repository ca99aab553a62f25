package entity

// Plan is a purchasable subscription package. The catalog is defined in the
// YAML config, not in the database, so price changes do not touch sold
// subscriptions.
type Plan struct {
	Code        string `json:"code" yaml:"code" env-default:""`
	Title       string `json:"title" yaml:"title"`
	Days        int    `json:"days" yaml:"days"`
	DataLimitGB int    `json:"data_limit_gb" yaml:"data_limit_gb"`
	PriceCents  int64  `json:"price_cents" yaml:"price_cents"`
	PriceStars  int64  `json:"price_stars" yaml:"price_stars"`
	Currency    string `json:"currency" yaml:"currency" env-default:"USD"`
}
