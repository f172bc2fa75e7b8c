package bybit

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// InstrumentInfo is the subset of instrument metadata the guardian reads
type InstrumentInfo struct {
	Symbol       string `json:"symbol"`
	Status       string `json:"status"`
	ContractType string `json:"contractType"`
	DeliveryTime string `json:"deliveryTime"`
	SettleCoin   string `json:"settleCoin"`
	PriceFilter  struct {
		MinPrice string `json:"minPrice"`
		MaxPrice string `json:"maxPrice"`
		TickSize string `json:"tickSize"`
	} `json:"priceFilter"`
	LotSizeFilter struct {
		MaxOrderQty string `json:"maxOrderQty"`
		MinOrderQty string `json:"minOrderQty"`
		QtyStep     string `json:"qtyStep"`
	} `json:"lotSizeFilter"`
}

// TickSize returns the parsed price tick, zero when missing or malformed
func (i *InstrumentInfo) TickSize() float64 {
	if tick, ok := parseFloat64(i.PriceFilter.TickSize); ok {
		return tick
	}
	return 0
}

// Expiry returns the delivery time, zero for perpetuals
func (i *InstrumentInfo) Expiry() time.Time {
	return parseTimestamp(i.DeliveryTime)
}

// Trading reports whether the instrument is currently listed for trading
func (i *InstrumentInfo) Trading() bool {
	return i.Status == "" || i.Status == "Trading"
}

type instrumentsResult struct {
	Category       string           `json:"category"`
	List           []InstrumentInfo `json:"list"`
	NextPageCursor string           `json:"nextPageCursor"`
}

// GetInstrumentInfo fetches instrument metadata for a single symbol
func (c *Client) GetInstrumentInfo(ctx context.Context, category, symbol string) (*InstrumentInfo, error) {
	params := map[string]interface{}{
		"category": category,
		"symbol":   symbol,
	}

	result, err := c.httpClient.NewUtaBybitServiceWithParams(params).GetInstrumentInfo(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get instrument info: %w", err)
	}

	var parsed instrumentsResult
	if err := decodeResult(result, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse instrument info response: %w", err)
	}
	if len(parsed.List) == 0 {
		return nil, fmt.Errorf("instrument %s not found", symbol)
	}
	return &parsed.List[0], nil
}

// InstrumentCache keeps instrument metadata that changes rarely (tick size, delivery time)
type InstrumentCache struct {
	client         *Client
	category       string
	updateInterval time.Duration

	mu          sync.RWMutex
	instruments map[string]*InstrumentInfo
	fetchedAt   map[string]time.Time
	now         func() time.Time
}

// NewInstrumentCache creates a cache that refetches an instrument after updateInterval
func NewInstrumentCache(client *Client, category string, updateInterval time.Duration) *InstrumentCache {
	if updateInterval <= 0 {
		updateInterval = time.Hour
	}
	return &InstrumentCache{
		client:         client,
		category:       category,
		updateInterval: updateInterval,
		instruments:    make(map[string]*InstrumentInfo),
		fetchedAt:      make(map[string]time.Time),
		now:            time.Now,
	}
}

// Get returns cached metadata, fetching it when missing or expired.
// An expired entry is still returned if the refetch fails.
func (m *InstrumentCache) Get(ctx context.Context, symbol string) (*InstrumentInfo, error) {
	m.mu.RLock()
	info, ok := m.instruments[symbol]
	fresh := ok && m.now().Sub(m.fetchedAt[symbol]) < m.updateInterval
	m.mu.RUnlock()
	if fresh {
		return info, nil
	}

	fetched, err := m.client.GetInstrumentInfo(ctx, m.category, symbol)
	if err != nil {
		if ok {
			return info, nil
		}
		return nil, err
	}

	m.mu.Lock()
	m.instruments[symbol] = fetched
	m.fetchedAt[symbol] = m.now()
	m.mu.Unlock()
	return fetched, nil
}

// Put stores metadata directly
func (m *InstrumentCache) Put(info *InstrumentInfo) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.instruments[info.Symbol] = info
	m.fetchedAt[info.Symbol] = m.now()
}
