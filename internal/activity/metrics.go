package activity

// Metrics captures the observable activity of one account at fetch time.
// A Metrics value is immutable once produced; a later fetch for the same
// account yields a new value rather than mutating this one.
type Metrics struct {
	Address          string  `json:"address"`
	TransactionCount int     `json:"transactionCount"`
	AccountAgeMonths int     `json:"accountAgeMonths"`
	ActivityScore    int     `json:"activityScore"` // 0-100 engagement index
	RepaymentRate    int     `json:"repaymentRate"` // 0-100 percentage
	Balance          float64 `json:"balance"`       // Native credits
	LastActivity     int64   `json:"lastActivity"`  // Unix seconds, set at fetch time
}
