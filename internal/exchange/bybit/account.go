package bybit

import (
	"context"
	"fmt"
)

// AccountType represents different account types in Bybit
type AccountType string

const (
	AccountTypeUnified  AccountType = "UNIFIED"
	AccountTypeContract AccountType = "CONTRACT"
)

// WalletInfo is the account-level margin summary of a wallet
type WalletInfo struct {
	AccountType            string `json:"accountType"`
	TotalEquity            string `json:"totalEquity"`
	TotalWalletBalance     string `json:"totalWalletBalance"`
	TotalMarginBalance     string `json:"totalMarginBalance"`
	TotalInitialMargin     string `json:"totalInitialMargin"`
	TotalMaintenanceMargin string `json:"totalMaintenanceMargin"`
	TotalPerpUPL           string `json:"totalPerpUPL"`
	AccountIMRate          string `json:"accountIMRate"`
	AccountMMRate          string `json:"accountMMRate"`
}

type walletResult struct {
	List []WalletInfo `json:"list"`
}

// PositionInfo is one open position from /v5/position/list
type PositionInfo struct {
	Symbol        string `json:"symbol"`
	Side          string `json:"side"` // Buy, Sell, or empty when flat
	Size          string `json:"size"`
	PositionValue string `json:"positionValue"`
	PositionIM    string `json:"positionIM"`
	MarkPrice     string `json:"markPrice"`
	PositionIdx   int    `json:"positionIdx"`
}

type positionsResult struct {
	Category       string         `json:"category"`
	List           []PositionInfo `json:"list"`
	NextPageCursor string         `json:"nextPageCursor"`
}

// GetWallet retrieves the wallet summary for an account type
func (c *Client) GetWallet(ctx context.Context, accountType AccountType) (*WalletInfo, error) {
	params := map[string]interface{}{
		"accountType": string(accountType),
	}

	result, err := c.httpClient.NewUtaBybitServiceWithParams(params).GetAccountWallet(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get wallet balance: %w", err)
	}

	var parsed walletResult
	if err := decodeResult(result, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse wallet response: %w", err)
	}
	if len(parsed.List) == 0 {
		return nil, fmt.Errorf("no wallet data for account type %s", accountType)
	}
	return &parsed.List[0], nil
}

// GetPositions retrieves all open positions in a category settled in settleCoin
func (c *Client) GetPositions(ctx context.Context, category, settleCoin string) ([]PositionInfo, error) {
	if category == "" {
		category = "linear"
	}
	if settleCoin == "" {
		settleCoin = "USDT"
	}

	var positions []PositionInfo
	cursor := ""
	for {
		params := map[string]interface{}{
			"category":   category,
			"settleCoin": settleCoin,
			"limit":      200,
		}
		if cursor != "" {
			params["cursor"] = cursor
		}

		result, err := c.httpClient.NewUtaBybitServiceWithParams(params).GetPositionList(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to get positions: %w", err)
		}

		var parsed positionsResult
		if err := decodeResult(result, &parsed); err != nil {
			return nil, fmt.Errorf("failed to parse positions response: %w", err)
		}
		positions = append(positions, parsed.List...)

		if parsed.NextPageCursor == "" || parsed.NextPageCursor == cursor || len(parsed.List) == 0 {
			return positions, nil
		}
		cursor = parsed.NextPageCursor
	}
}
