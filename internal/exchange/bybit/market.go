package bybit

import (
	"context"
	"fmt"
)

// Ticker is the per-symbol market summary returned by /v5/market/tickers
type Ticker struct {
	Symbol       string `json:"symbol"`
	LastPrice    string `json:"lastPrice"`
	MarkPrice    string `json:"markPrice"`
	Bid1Price    string `json:"bid1Price"`
	Bid1Size     string `json:"bid1Size"`
	Ask1Price    string `json:"ask1Price"`
	Ask1Size     string `json:"ask1Size"`
	Volume24h    string `json:"volume24h"`
	PrevPrice24h string `json:"prevPrice24h"`
	DeliveryTime string `json:"deliveryTime"`
}

type tickersResult struct {
	Category string   `json:"category"`
	List     []Ticker `json:"list"`
}

// GetTickers fetches tickers for a category. With symbols given, only those are returned.
func (c *Client) GetTickers(ctx context.Context, category string, symbols []string) ([]Ticker, error) {
	if category == "" {
		category = "linear"
	}
	params := map[string]interface{}{
		"category": category,
	}
	// A single symbol narrows the request; otherwise the whole category is filtered locally
	if len(symbols) == 1 {
		params["symbol"] = symbols[0]
	}

	result, err := c.httpClient.NewUtaBybitServiceWithParams(params).GetMarketTickers(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get tickers: %w", err)
	}

	var parsed tickersResult
	if err := decodeResult(result, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse tickers response: %w", err)
	}
	return filterTickers(parsed.List, symbols), nil
}

func filterTickers(list []Ticker, symbols []string) []Ticker {
	if len(symbols) == 0 {
		return list
	}
	wanted := make(map[string]struct{}, len(symbols))
	for _, s := range symbols {
		wanted[s] = struct{}{}
	}
	out := make([]Ticker, 0, len(symbols))
	for _, t := range list {
		if _, ok := wanted[t.Symbol]; ok {
			out = append(out, t)
		}
	}
	return out
}
