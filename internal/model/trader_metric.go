package model

import "time"

// TraderMetric is an append-only snapshot recorded after every completed
// trade cycle.
type TraderMetric struct {
	ID                int64      `json:"id"`
	TraderAddress     string     `json:"trader_address"`
	BaseTokenAddress  string     `json:"base_token_address"`
	QuoteTokenAddress string     `json:"quote_token_address"`
	TraderMode        TraderMode `json:"trader_mode"`
	BlockNumber       uint64     `json:"block_number"`
	TxCount           uint64     `json:"tx_count"`
	BaseBalance       float64    `json:"base_balance"`
	QuoteBalance      float64    `json:"quote_balance"`
	CreatedAt         time.Time  `json:"created_at"`
}
