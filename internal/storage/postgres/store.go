package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"arbtrader/internal/model"
)

// Store provides Postgres persistence for tokens, trading pairs, and trader
// metrics.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Migrate creates the schema when it does not exist yet.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS tokens (
			address TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			symbol TEXT NOT NULL,
			decimals SMALLINT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);
		CREATE TABLE IF NOT EXISTS trading_pairs (
			id BIGSERIAL PRIMARY KEY,
			exchange TEXT NOT NULL,
			pool_address TEXT NOT NULL UNIQUE,
			pool_fee INTEGER NOT NULL,
			base_token_address TEXT NOT NULL REFERENCES tokens(address),
			quote_token_address TEXT NOT NULL REFERENCES tokens(address),
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			UNIQUE (exchange, base_token_address, quote_token_address)
		);
		CREATE TABLE IF NOT EXISTS trader_metrics (
			id BIGSERIAL PRIMARY KEY,
			trader_address TEXT NOT NULL,
			base_token_address TEXT NOT NULL,
			quote_token_address TEXT NOT NULL,
			trader_mode TEXT NOT NULL,
			block_number BIGINT NOT NULL,
			tx_count BIGINT NOT NULL,
			base_balance DOUBLE PRECISION NOT NULL,
			quote_balance DOUBLE PRECISION NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);
	`)
	return err
}

// FindToken returns the token by checksummed address, or nil when absent.
func (s *Store) FindToken(ctx context.Context, address string) (*model.Token, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT address, name, symbol, decimals FROM tokens WHERE address = $1
	`, address)

	var token model.Token
	if err := row.Scan(&token.Address, &token.Name, &token.Symbol, &token.Decimals); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &token, nil
}

// CreateToken inserts a token row. Tokens are immutable once recorded.
func (s *Store) CreateToken(ctx context.Context, token model.Token) (*model.Token, error) {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO tokens (address, name, symbol, decimals)
		VALUES ($1, $2, $3, $4)
	`, token.Address, token.Name, token.Symbol, token.Decimals)
	if err != nil {
		return nil, err
	}
	return &token, nil
}

// FindTradingPair returns the pair for (base, quote, exchange), or nil.
func (s *Store) FindTradingPair(ctx context.Context, base, quote string, exchange model.Exchange) (*model.TradingPair, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, exchange, pool_address, pool_fee, base_token_address, quote_token_address
		FROM trading_pairs
		WHERE base_token_address = $1 AND quote_token_address = $2 AND exchange = $3
	`, base, quote, string(exchange))

	var pair model.TradingPair
	var ex string
	if err := row.Scan(&pair.ID, &ex, &pair.PoolAddress, &pair.PoolFee, &pair.BaseTokenAddress, &pair.QuoteTokenAddress); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	pair.Exchange = model.Exchange(ex)
	return &pair, nil
}

// CreateTradingPair inserts a trading pair row.
func (s *Store) CreateTradingPair(ctx context.Context, pair model.TradingPair) (*model.TradingPair, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO trading_pairs (exchange, pool_address, pool_fee, base_token_address, quote_token_address)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`, string(pair.Exchange), pair.PoolAddress, pair.PoolFee, pair.BaseTokenAddress, pair.QuoteTokenAddress)
	if err := row.Scan(&pair.ID); err != nil {
		return nil, err
	}
	return &pair, nil
}

// ListTradingPairs returns all pairs with embedded token metadata.
func (s *Store) ListTradingPairs(ctx context.Context) ([]model.TradingPair, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT
			p.id, p.exchange, p.pool_address, p.pool_fee,
			p.base_token_address, p.quote_token_address,
			b.address, b.name, b.symbol, b.decimals,
			q.address, q.name, q.symbol, q.decimals
		FROM trading_pairs p
		JOIN tokens b ON b.address = p.base_token_address
		JOIN tokens q ON q.address = p.quote_token_address
		ORDER BY p.id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pairs []model.TradingPair
	for rows.Next() {
		var pair model.TradingPair
		var ex string
		var base, quote model.Token
		if err := rows.Scan(
			&pair.ID, &ex, &pair.PoolAddress, &pair.PoolFee,
			&pair.BaseTokenAddress, &pair.QuoteTokenAddress,
			&base.Address, &base.Name, &base.Symbol, &base.Decimals,
			&quote.Address, &quote.Name, &quote.Symbol, &quote.Decimals,
		); err != nil {
			return nil, err
		}
		pair.Exchange = model.Exchange(ex)
		pair.BaseToken = &base
		pair.QuoteToken = &quote
		pairs = append(pairs, pair)
	}
	return pairs, rows.Err()
}

// AppendTraderMetric inserts an audit snapshot. Metrics are never updated.
func (s *Store) AppendTraderMetric(ctx context.Context, metric model.TraderMetric) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO trader_metrics (
			trader_address, base_token_address, quote_token_address,
			trader_mode, block_number, tx_count, base_balance, quote_balance
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`,
		metric.TraderAddress,
		metric.BaseTokenAddress,
		metric.QuoteTokenAddress,
		string(metric.TraderMode),
		int64(metric.BlockNumber),
		int64(metric.TxCount),
		metric.BaseBalance,
		metric.QuoteBalance,
	)
	return err
}

// ListTraderMetrics returns all metric snapshots in insertion order.
func (s *Store) ListTraderMetrics(ctx context.Context) ([]model.TraderMetric, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, trader_address, base_token_address, quote_token_address,
			trader_mode, block_number, tx_count, base_balance, quote_balance, created_at
		FROM trader_metrics
		ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var metrics []model.TraderMetric
	for rows.Next() {
		var m model.TraderMetric
		var mode string
		var block, txCount int64
		if err := rows.Scan(
			&m.ID, &m.TraderAddress, &m.BaseTokenAddress, &m.QuoteTokenAddress,
			&mode, &block, &txCount, &m.BaseBalance, &m.QuoteBalance, &m.CreatedAt,
		); err != nil {
			return nil, err
		}
		m.TraderMode = model.TraderMode(mode)
		m.BlockNumber = uint64(block)
		m.TxCount = uint64(txCount)
		metrics = append(metrics, m)
	}
	return metrics, rows.Err()
}
