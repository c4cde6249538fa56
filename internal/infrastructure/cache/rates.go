package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/baymax-09/roobet-casino-sub000/internal/domain/entities"
)

// RateSource resolves the USD price of one whole token unit
type RateSource interface {
	USDPrice(ctx context.Context, token entities.Token) (decimal.Decimal, error)
}

// StaticRates serves configured reference prices
type StaticRates map[entities.Token]decimal.Decimal

// NewStaticRates builds a rate table from symbol keyed prices
func NewStaticRates(prices map[string]float64) StaticRates {
	rates := make(StaticRates, len(prices))
	for symbol, price := range prices {
		rates[entities.Token(strings.ToUpper(symbol))] = decimal.NewFromFloat(price)
	}
	return rates
}

func (r StaticRates) USDPrice(_ context.Context, token entities.Token) (decimal.Decimal, error) {
	price, ok := r[token]
	if !ok {
		return decimal.Zero, fmt.Errorf("no USD rate for %s", token)
	}
	return price, nil
}

// CachedRates memoizes a rate source in Redis. Cache failures fall through
// to the source.
type CachedRates struct {
	client RedisClient
	source RateSource
	ttl    time.Duration
	logger *zap.Logger
}

// NewCachedRates wraps source with a Redis cache
func NewCachedRates(client RedisClient, source RateSource, ttl time.Duration, logger *zap.Logger) *CachedRates {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &CachedRates{client: client, source: source, ttl: ttl, logger: logger}
}

func rateKey(token entities.Token) string {
	return fmt.Sprintf("rates:usd:%s", token)
}

func (c *CachedRates) USDPrice(ctx context.Context, token entities.Token) (decimal.Decimal, error) {
	var cached decimal.Decimal
	err := c.client.Get(ctx, rateKey(token), &cached)
	if err == nil {
		return cached, nil
	}
	if !errors.Is(err, ErrCacheMiss) {
		c.logger.Warn("Rate cache read failed", zap.String("token", string(token)), zap.Error(err))
	}

	price, err := c.source.USDPrice(ctx, token)
	if err != nil {
		return decimal.Zero, err
	}
	if err := c.client.Set(ctx, rateKey(token), price, c.ttl); err != nil {
		c.logger.Warn("Rate cache write failed", zap.String("token", string(token)), zap.Error(err))
	}
	return price, nil
}

// USDValue converts a base-unit amount of token to USD
func USDValue(ctx context.Context, rates RateSource, token entities.Token, amount entities.Amount) (decimal.Decimal, error) {
	info, ok := token.Info()
	if !ok {
		return decimal.Zero, fmt.Errorf("unknown token %s", token)
	}
	price, err := rates.USDPrice(ctx, token)
	if err != nil {
		return decimal.Zero, err
	}
	return amount.Decimal(info.Decimals).Mul(price), nil
}
