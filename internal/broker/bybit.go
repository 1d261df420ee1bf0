package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	bybit_api "github.com/bybit-exchange/bybit.go.api"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	execerrors "github.com/tradesys/ordergate/internal/errors"
	"github.com/tradesys/ordergate/pkg/types"
)

// BybitConfig configures the Bybit venue adapter.
type BybitConfig struct {
	APIKey    string
	APISecret string
	BaseURL   string
	Testnet   bool
	Demo      bool
	// AllowedHosts is the closed set of hosts the adapter may talk to. A base
	// URL outside this set is refused at construction, before any credential
	// is used.
	AllowedHosts []string
}

const bybitDemoURL = "https://api-demo.bybit.com"

func defaultAllowedHosts() []string {
	return []string{
		"api.bybit.com",
		"api-testnet.bybit.com",
		"api-demo.bybit.com",
	}
}

// BybitBroker submits orders to Bybit's unified trading API.
type BybitBroker struct {
	httpClient *bybit_api.Client
	category   string
	logger     *zap.Logger
}

// NewBybitBroker builds the adapter. Construction fails with a fatal
// authorization error when the configured base URL is not on the host
// allowlist, so a typoed or malicious endpoint can never receive credentials.
func NewBybitBroker(cfg BybitConfig, logger *zap.Logger) (*BybitBroker, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		switch {
		case cfg.Demo:
			baseURL = bybitDemoURL
		case cfg.Testnet:
			baseURL = bybit_api.TESTNET
		default:
			baseURL = bybit_api.MAINNET
		}
	}

	if err := checkHostAllowed(baseURL, cfg.AllowedHosts); err != nil {
		return nil, err
	}

	httpClient := bybit_api.NewBybitHttpClient(
		cfg.APIKey,
		cfg.APISecret,
		bybit_api.WithBaseURL(baseURL),
	)

	return &BybitBroker{
		httpClient: httpClient,
		category:   "spot",
		logger:     logger,
	}, nil
}

func checkHostAllowed(rawURL string, allowed []string) error {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return execerrors.NewAuthzError("broker", "construct",
			fmt.Sprintf("broker base URL %q is not a valid URL", rawURL)).
			WithReason("host_not_allowed")
	}
	if len(allowed) == 0 {
		allowed = defaultAllowedHosts()
	}
	host := strings.ToLower(u.Hostname())
	for _, a := range allowed {
		if host == strings.ToLower(strings.TrimSpace(a)) {
			return nil
		}
	}
	return execerrors.NewAuthzError("broker", "construct",
		fmt.Sprintf("broker host %q is not on the allowlist", host)).
		WithReason("host_not_allowed").
		WithContext("host", host)
}

// Name implements Broker.
func (b *BybitBroker) Name() string {
	return "bybit"
}

// PlaceOrder implements Broker. The intent's ClientIntentID is sent as the
// orderLinkId so a resubmission of the same intent is rejected venue-side.
func (b *BybitBroker) PlaceOrder(ctx context.Context, intent types.OrderIntent) (*Order, error) {
	params := map[string]interface{}{
		"category":    b.category,
		"symbol":      intent.Symbol,
		"side":        sideParam(intent.Side),
		"orderType":   orderTypeParam(intent.OrderType),
		"qty":         intent.Quantity.String(),
		"orderLinkId": intent.ClientIntentID,
	}
	if intent.OrderType == types.OrderTypeLimit {
		if intent.LimitPrice == nil {
			return nil, execerrors.NewInvariantError("broker", "place_order",
				"limit order carries no limit price")
		}
		params["price"] = intent.LimitPrice.String()
	}
	if tif := timeInForceParam(intent.TimeInForce); tif != "" {
		params["timeInForce"] = tif
	}

	result, err := b.httpClient.NewUtaBybitServiceWithParams(params).PlaceOrder(ctx)
	if err != nil {
		return nil, execerrors.NewBrokerError("broker", "place_order", err)
	}

	order, err := b.parseOrder(result)
	if err != nil {
		return nil, err
	}
	b.logger.Info("order placed",
		zap.String("broker_order_id", order.ID),
		zap.String("symbol", intent.Symbol),
		zap.String("client_intent_id", intent.ClientIntentID))
	return order, nil
}

// CancelOrder implements Broker.
func (b *BybitBroker) CancelOrder(ctx context.Context, symbol, brokerOrderID string) error {
	params := map[string]interface{}{
		"category": b.category,
		"symbol":   symbol,
		"orderId":  brokerOrderID,
	}
	result, err := b.httpClient.NewUtaBybitServiceWithParams(params).CancelOrder(ctx)
	if err != nil {
		return execerrors.NewBrokerError("broker", "cancel_order", err)
	}
	if _, err := b.serverResult(result); err != nil {
		return err
	}
	return nil
}

// GetOrderStatus implements Broker. Open orders are checked first; filled or
// cancelled orders fall through to history.
func (b *BybitBroker) GetOrderStatus(ctx context.Context, symbol, brokerOrderID string) (*Order, error) {
	params := map[string]interface{}{
		"category": b.category,
		"symbol":   symbol,
		"orderId":  brokerOrderID,
	}

	result, err := b.httpClient.NewUtaBybitServiceWithParams(params).GetOpenOrders(ctx)
	if err != nil {
		return nil, execerrors.NewBrokerError("broker", "get_order_status", err)
	}
	if order, err := b.findOrder(result, brokerOrderID); err == nil && order != nil {
		return order, nil
	}

	result, err = b.httpClient.NewUtaBybitServiceWithParams(params).GetOrderHistory(ctx)
	if err != nil {
		return nil, execerrors.NewBrokerError("broker", "get_order_status", err)
	}
	order, err := b.findOrder(result, brokerOrderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, execerrors.New(execerrors.CategoryBroker, "broker", "get_order_status",
			fmt.Sprintf("order %s not found", brokerOrderID)).
			WithReason("order_not_found")
	}
	return order, nil
}

// Snapshot reads the unified account wallet and maps it to the account view
// the risk engine evaluates against.
func (b *BybitBroker) Snapshot(ctx context.Context, tenantID, accountID string) (types.AccountSnapshot, error) {
	params := map[string]interface{}{"accountType": "UNIFIED"}
	result, err := b.httpClient.NewUtaBybitServiceWithParams(params).GetAccountWallet(ctx)
	if err != nil {
		return types.AccountSnapshot{}, execerrors.NewBrokerError("broker", "account_snapshot", err)
	}
	raw, err := b.serverResult(result)
	if err != nil {
		return types.AccountSnapshot{}, err
	}
	var payload struct {
		List []struct {
			TotalEquity           string `json:"totalEquity"`
			TotalAvailableBalance string `json:"totalAvailableBalance"`
		} `json:"list"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return types.AccountSnapshot{}, execerrors.NewBrokerError("broker", "account_snapshot", err)
	}
	if len(payload.List) == 0 {
		return types.AccountSnapshot{}, execerrors.New(execerrors.CategoryBroker, "broker", "account_snapshot",
			"wallet response carries no account")
	}
	return types.AccountSnapshot{
		TenantID:    tenantID,
		AccountID:   accountID,
		Equity:      parseDecimal(payload.List[0].TotalEquity),
		BuyingPower: parseDecimal(payload.List[0].TotalAvailableBalance),
		AsOf:        time.Now().Unix(),
	}, nil
}

type bybitOrderPayload struct {
	OrderID     string `json:"orderId"`
	OrderLinkID string `json:"orderLinkId"`
	Symbol      string `json:"symbol"`
	Qty         string `json:"qty"`
	OrderStatus string `json:"orderStatus"`
	CumExecQty  string `json:"cumExecQty"`
	AvgPrice    string `json:"avgPrice"`
}

func (b *BybitBroker) serverResult(response interface{}) (json.RawMessage, error) {
	serverResp, ok := response.(*bybit_api.ServerResponse)
	if !ok {
		return nil, execerrors.New(execerrors.CategoryBroker, "broker", "parse_response",
			"response is not a server response")
	}
	if serverResp.RetCode != 0 {
		return nil, execerrors.New(execerrors.CategoryBroker, "broker", "parse_response",
			fmt.Sprintf("venue error %d: %s", serverResp.RetCode, serverResp.RetMsg)).
			WithContext("ret_code", serverResp.RetCode)
	}
	raw, err := json.Marshal(serverResp.Result)
	if err != nil {
		return nil, execerrors.NewBrokerError("broker", "parse_response", err)
	}
	return raw, nil
}

func (b *BybitBroker) parseOrder(response interface{}) (*Order, error) {
	raw, err := b.serverResult(response)
	if err != nil {
		return nil, err
	}
	var payload bybitOrderPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, execerrors.NewBrokerError("broker", "parse_response", err)
	}
	return payloadToOrder(payload), nil
}

func (b *BybitBroker) findOrder(response interface{}, brokerOrderID string) (*Order, error) {
	raw, err := b.serverResult(response)
	if err != nil {
		return nil, err
	}
	var list struct {
		List []bybitOrderPayload `json:"list"`
	}
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, execerrors.NewBrokerError("broker", "parse_response", err)
	}
	for _, payload := range list.List {
		if payload.OrderID == brokerOrderID {
			return payloadToOrder(payload), nil
		}
	}
	return nil, nil
}

func payloadToOrder(p bybitOrderPayload) *Order {
	return &Order{
		ID:            p.OrderID,
		ClientOrderID: p.OrderLinkID,
		Symbol:        p.Symbol,
		Status:        p.OrderStatus,
		Qty:           parseDecimal(p.Qty),
		FilledQty:     parseDecimal(p.CumExecQty),
		AvgPrice:      parseDecimal(p.AvgPrice),
	}
}

func parseDecimal(raw string) decimal.Decimal {
	if raw == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func sideParam(side types.Side) string {
	if side == types.SideSell {
		return "Sell"
	}
	return "Buy"
}

func orderTypeParam(ot types.OrderType) string {
	if ot == types.OrderTypeLimit {
		return "Limit"
	}
	return "Market"
}

func timeInForceParam(tif types.TimeInForce) string {
	switch tif {
	case types.TimeInForceIOC:
		return "IOC"
	case types.TimeInForceGTC, types.TimeInForceDay:
		return "GTC"
	}
	return ""
}
