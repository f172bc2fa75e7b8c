package bybit

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"

	bybit_api "github.com/bybit-exchange/bybit.go.api"
)

// Client wraps the Bybit API client with the read-side calls the guardian needs
type Client struct {
	httpClient *bybit_api.Client
	testnet    bool
	demo       bool
}

// Config holds the configuration for the Bybit client
type Config struct {
	APIKey    string
	APISecret string
	Testnet   bool
	Demo      bool // Demo trading environment

	// BaseURL overrides the environment endpoint (used against local test servers)
	BaseURL string
}

// NewClient creates a new Bybit client
func NewClient(config Config) *Client {
	baseURL := config.BaseURL
	if baseURL == "" {
		switch {
		case config.Demo:
			baseURL = "https://api-demo.bybit.com"
		case config.Testnet:
			baseURL = bybit_api.TESTNET
		default:
			baseURL = bybit_api.MAINNET
		}
	}

	httpClient := bybit_api.NewBybitHttpClient(
		config.APIKey,
		config.APISecret,
		bybit_api.WithBaseURL(baseURL),
	)

	return &Client{
		httpClient: httpClient,
		testnet:    config.Testnet,
		demo:       config.Demo,
	}
}

// GetEnvironment returns a string describing the current environment
func (c *Client) GetEnvironment() string {
	if c.demo {
		return "demo"
	} else if c.testnet {
		return "testnet"
	}
	return "mainnet"
}

// decodeResult unwraps a Bybit server response into out.
// A non-zero retCode becomes an *APIError.
func decodeResult(response interface{}, out interface{}) error {
	serverResp, ok := response.(*bybit_api.ServerResponse)
	if !ok {
		return fmt.Errorf("invalid response type %T", response)
	}
	if serverResp.RetCode != 0 {
		return &APIError{Code: serverResp.RetCode, Message: serverResp.RetMsg}
	}

	resultBytes, err := json.Marshal(serverResp.Result)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}
	if err := json.Unmarshal(resultBytes, out); err != nil {
		return fmt.Errorf("failed to unmarshal result: %w", err)
	}
	return nil
}

// parseFloat64 parses a numeric API field. An empty field is zero; ok is
// false for anything that is not a finite number.
func parseFloat64(s string) (float64, bool) {
	if s == "" {
		return 0, true
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// parseTimestamp converts a milliseconds timestamp to time.Time; zero or empty means unset
func parseTimestamp(ts string) time.Time {
	if ts == "" || ts == "0" {
		return time.Time{}
	}
	msec, err := strconv.ParseInt(ts, 10, 64)
	if err != nil || msec <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(msec).UTC()
}
