package stream

import (
	"encoding/json"
	"math/rand/v2"
	"sync"

	"github.com/shopspring/decimal"
)

// 价格以分为单位生成，保证落在 [0, 1000) 且恰好两位小数。
const priceCentsRange = 100000

// PriceTick 一次模拟报价。
type PriceTick struct {
	Symbol string
	Price  decimal.Decimal
}

type tickWire struct {
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
}

// MarshalJSON encodes the price as a fixed two-decimal string, e.g. {"symbol":"XYZ","price":"42.10"}.
func (t PriceTick) MarshalJSON() ([]byte, error) {
	return json.Marshal(tickWire{Symbol: t.Symbol, Price: t.Price.StringFixed(2)})
}

func (t *PriceTick) UnmarshalJSON(data []byte) error {
	var w tickWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	p, err := decimal.NewFromString(w.Price)
	if err != nil {
		return err
	}
	t.Symbol = w.Symbol
	t.Price = p
	return nil
}

// TickSource 产生下一笔报价，需并发安全。
type TickSource interface {
	Next() PriceTick
}

// RandomSource 固定代码、均匀随机价格。
type RandomSource struct {
	symbol string

	mu  sync.Mutex
	rng *rand.Rand // nil 时使用全局随机源
}

func NewRandomSource(symbol string) *RandomSource {
	return &RandomSource{symbol: symbol}
}

// NewSeededSource is deterministic, for tests and replays.
func NewSeededSource(symbol string, seed uint64) *RandomSource {
	return &RandomSource{symbol: symbol, rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

func (s *RandomSource) Next() PriceTick {
	var cents int64
	if s.rng == nil {
		cents = rand.Int64N(priceCentsRange)
	} else {
		s.mu.Lock()
		cents = s.rng.Int64N(priceCentsRange)
		s.mu.Unlock()
	}
	return PriceTick{Symbol: s.symbol, Price: decimal.New(cents, -2)}
}
