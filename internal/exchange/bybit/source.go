package bybit

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/sourcegraph/conc/pool"

	guarderrors "github.com/ducminhle1904/futures-guardian/internal/errors"
	"github.com/ducminhle1904/futures-guardian/internal/logger"
	"github.com/ducminhle1904/futures-guardian/internal/marketdata"
	"github.com/ducminhle1904/futures-guardian/internal/safety"
	"github.com/ducminhle1904/futures-guardian/pkg/types"
)

// SourceConfig configures the Bybit snapshot source
type SourceConfig struct {
	Category    string
	SettleCoin  string
	AccountType AccountType
	Symbols     []string // always quoted, held or not
	Timeout     time.Duration
	Breaker     safety.CircuitBreakerConfig
}

// SnapshotSource builds guardian snapshots from Bybit tickers, wallet, positions and instruments
type SnapshotSource struct {
	client      *Client
	config      SourceConfig
	instruments *InstrumentCache
	breaker     *safety.CircuitBreaker
	log         *logger.Logger
	now         func() time.Time
}

var _ marketdata.Source = (*SnapshotSource)(nil)

// NewSnapshotSource creates a snapshot source on top of client
func NewSnapshotSource(log *logger.Logger, client *Client, config SourceConfig) *SnapshotSource {
	if config.Category == "" {
		config.Category = "linear"
	}
	if config.SettleCoin == "" {
		config.SettleCoin = "USDT"
	}
	if config.AccountType == "" {
		config.AccountType = AccountTypeUnified
	}
	if config.Timeout <= 0 {
		config.Timeout = 2 * time.Second
	}
	if log == nil {
		log = logger.NewNop()
	}
	log = log.Named("bybit")

	breaker := safety.NewCircuitBreaker("bybit-"+config.Category, config.Breaker)
	breaker.SetStateChangeCallback(func(name string, from, to safety.CircuitBreakerState) {
		log.Warning("Circuit breaker %s: %s -> %s", name, from, to)
	})

	return &SnapshotSource{
		client:      client,
		config:      config,
		instruments: NewInstrumentCache(client, config.Category, time.Hour),
		breaker:     breaker,
		log:         log,
		now:         time.Now,
	}
}

// Name returns the source name
func (s *SnapshotSource) Name() string {
	return "bybit/" + s.client.GetEnvironment()
}

// Breaker exposes the circuit breaker guarding the exchange calls
func (s *SnapshotSource) Breaker() *safety.CircuitBreaker {
	return s.breaker
}

// Fetch pulls wallet, positions and tickers in parallel and assembles one snapshot.
// The whole fetch is bounded by the configured timeout; any failure fails the snapshot.
func (s *SnapshotSource) Fetch(ctx context.Context) (*types.Snapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()

	var (
		wallet    *WalletInfo
		positions []PositionInfo
		tickers   []Ticker
	)
	err := s.breaker.Execute(ctx, func(ctx context.Context) error {
		p := pool.New().WithErrors().WithContext(ctx).WithCancelOnError()
		p.Go(func(ctx context.Context) error {
			w, err := s.client.GetWallet(ctx, s.config.AccountType)
			wallet = w
			return err
		})
		p.Go(func(ctx context.Context) error {
			list, err := s.client.GetPositions(ctx, s.config.Category, s.config.SettleCoin)
			positions = list
			return err
		})
		p.Go(func(ctx context.Context) error {
			// whole category in one request, filtered once held symbols are known
			list, err := s.client.GetTickers(ctx, s.config.Category, nil)
			tickers = list
			return err
		})
		return p.Wait()
	})
	if err != nil {
		return nil, guarderrors.WrapExternal(err, "bybit", "fetch_snapshot")
	}

	symbols := s.quotedSymbols(positions)
	tickers = filterTickers(tickers, symbols)

	instruments := make(map[string]*InstrumentInfo, len(symbols))
	for _, sym := range symbols {
		info, err := s.instruments.Get(ctx, sym)
		if err != nil {
			s.log.LogWarning("instrument_info", "no instrument metadata for %s: %v", sym, err)
			continue
		}
		instruments[sym] = info
	}

	snap, err := BuildSnapshot(tickers, wallet, positions, instruments, s.now())
	if err != nil {
		return nil, err
	}
	marketdata.Normalize(snap)
	return snap, nil
}

// quotedSymbols is the configured symbols plus everything currently held
func (s *SnapshotSource) quotedSymbols(positions []PositionInfo) []string {
	set := make(map[string]struct{}, len(s.config.Symbols)+len(positions))
	for _, sym := range s.config.Symbols {
		set[sym] = struct{}{}
	}
	for _, p := range positions {
		if size, ok := parseFloat64(p.Size); !ok || size != 0 {
			set[p.Symbol] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for sym := range set {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

// fieldParser collects numeric fields that fail to parse
type fieldParser struct {
	bad []string
}

func (p *fieldParser) float(name, raw string) float64 {
	v, ok := parseFloat64(raw)
	if !ok {
		p.bad = append(p.bad, fmt.Sprintf("%s=%q", name, raw))
	}
	return v
}

// BuildSnapshot converts raw Bybit payloads into a guardian snapshot stamped at receivedAt.
// Version is left zero; the snapshot store assigns it on publish. Any numeric
// field that is not a finite number fails the whole snapshot, so the loop
// publishes a feed error instead of guessing.
func BuildSnapshot(tickers []Ticker, wallet *WalletInfo, positions []PositionInfo, instruments map[string]*InstrumentInfo, receivedAt time.Time) (*types.Snapshot, error) {
	snap := &types.Snapshot{
		Timestamp: receivedAt,
		Quotes:    make(map[string]types.Quote, len(tickers)),
	}
	var fp fieldParser

	if wallet != nil {
		snap.Account.Equity = fp.float("totalEquity", wallet.TotalEquity)
		snap.Account.UsedMargin = fp.float("totalInitialMargin", wallet.TotalInitialMargin)
	}

	marginRates := make(map[string]float64)
	for _, p := range positions {
		size := fp.float(p.Symbol+".size", p.Size)
		if size == 0 {
			continue
		}
		if strings.EqualFold(p.Side, "Sell") {
			size = -size
		}
		value := fp.float(p.Symbol+".positionValue", p.PositionValue)
		im := fp.float(p.Symbol+".positionIM", p.PositionIM)
		if value > 0 && im > 0 {
			marginRates[p.Symbol] = im / value
		}
		snap.Account.Positions = append(snap.Account.Positions, types.Position{
			Symbol:   p.Symbol,
			Quantity: size,
			Notional: value,
			Margin:   im,
		})
	}

	for _, t := range tickers {
		q := types.Quote{
			Symbol:        t.Symbol,
			LastPrice:     fp.float(t.Symbol+".lastPrice", t.LastPrice),
			LastQuoteTime: receivedAt,
			Session:       types.SessionContinuous,
			BidPrice:      fp.float(t.Symbol+".bid1Price", t.Bid1Price),
			BidSize:       fp.float(t.Symbol+".bid1Size", t.Bid1Size),
			AskPrice:      fp.float(t.Symbol+".ask1Price", t.Ask1Price),
			AskSize:       fp.float(t.Symbol+".ask1Size", t.Ask1Size),
			Volume:        fp.float(t.Symbol+".volume24h", t.Volume24h),
			Expiry:        parseTimestamp(t.DeliveryTime),
			Multiplier:    1,
			MarginRate:    marginRates[t.Symbol],
		}
		if info, ok := instruments[t.Symbol]; ok && info != nil {
			q.TickSize = info.TickSize()
			if q.Expiry.IsZero() {
				q.Expiry = info.Expiry()
			}
			if !info.Trading() {
				q.Session = types.SessionClosed
			}
		}
		snap.Quotes[t.Symbol] = q
	}

	if len(fp.bad) > 0 {
		return nil, guarderrors.NewInputError("bybit", "build_snapshot",
			"malformed numeric fields: "+strings.Join(fp.bad, ", "))
	}
	return snap, nil
}
