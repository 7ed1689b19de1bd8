// Package pricing is the market-data collaborator. The core never fetches
// prices itself; it consumes this capability and degrades per-rule when a
// price is absent.
package pricing

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"math/rand"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// ErrPriceUnavailable signals that no quote exists for a product. Scheduler
// occurrences that need the price are skipped and retried on the next pass.
var ErrPriceUnavailable = errors.New("price unavailable")

// Quote is the latest or historical price of a product.
type Quote struct {
	ProductID string
	Price     decimal.Decimal
	Timestamp time.Time
}

// Service exposes price lookup behaviour.
type Service interface {
	GetLatestPrice(ctx context.Context, productID string) (Quote, error)
	GetHistoricalPrice(ctx context.Context, productID string, day time.Time) (decimal.Decimal, error)
}

// RandomService mocks a market data provider with deterministic
// pseudo-random quotes, stable per product and day.
type RandomService struct {
	mu      sync.Mutex
	cache   map[string]Quote
	ttl     time.Duration
	nowFunc func() time.Time
}

func NewRandomService(ttl time.Duration) *RandomService {
	return &RandomService{
		cache:   make(map[string]Quote),
		ttl:     ttl,
		nowFunc: time.Now,
	}
}

func (s *RandomService) GetLatestPrice(ctx context.Context, productID string) (Quote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.nowFunc()
	if q, ok := s.cache[productID]; ok && now.Sub(q.Timestamp) < s.ttl {
		return q, nil
	}
	q := Quote{ProductID: productID, Price: s.generate(productID, now), Timestamp: now}
	s.cache[productID] = q
	return q, nil
}

func (s *RandomService) GetHistoricalPrice(ctx context.Context, productID string, day time.Time) (decimal.Decimal, error) {
	// Anchor mid-day so the value is stable for any instant within the day.
	anchor := time.Date(day.Year(), day.Month(), day.Day(), 12, 0, 0, 0, time.UTC)
	return s.generate(productID, anchor), nil
}

func (s *RandomService) generate(productID string, t time.Time) decimal.Decimal {
	h := fnv.New64a()
	_, _ = h.Write([]byte(fmt.Sprintf("%s-%d-%d", productID, t.Year(), t.YearDay())))
	r := rand.New(rand.NewSource(int64(h.Sum64())))
	// Range chosen to mimic liquid mid-cap instruments.
	price := 80 + r.Float64()*1920
	return decimal.NewFromFloat(price).Round(2)
}

// StaticService serves quotes from a fixed table and reports
// ErrPriceUnavailable for anything else. Used in tests and for manually
// priced products.
type StaticService struct {
	mu     sync.RWMutex
	prices map[string]decimal.Decimal
	now    func() time.Time
}

func NewStaticService(prices map[string]decimal.Decimal) *StaticService {
	if prices == nil {
		prices = map[string]decimal.Decimal{}
	}
	return &StaticService{prices: prices, now: time.Now}
}

// Set installs or replaces the price for a product.
func (s *StaticService) Set(productID string, price decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prices[productID] = price
}

func (s *StaticService) GetLatestPrice(ctx context.Context, productID string) (Quote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.prices[productID]
	if !ok {
		return Quote{}, fmt.Errorf("%w: %s", ErrPriceUnavailable, productID)
	}
	return Quote{ProductID: productID, Price: p, Timestamp: s.now()}, nil
}

func (s *StaticService) GetHistoricalPrice(ctx context.Context, productID string, day time.Time) (decimal.Decimal, error) {
	q, err := s.GetLatestPrice(ctx, productID)
	if err != nil {
		return decimal.Zero, err
	}
	return q.Price, nil
}
