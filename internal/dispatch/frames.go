package dispatch

import (
	"github.com/goccy/go-json"

	"github.com/quantfall/goxfeed/internal/schema"
)

// publicTradeChannel is the well-known channel id public trades arrive
// on. Trades seen on any other channel involve one of our own orders.
const publicTradeChannel = "dbf1dee9-4f2e-4a08-8cb7-748919a71b21"

// frame is the superset of fields any feed message can carry. Only the
// fields relevant to the routed op are populated.
type frame struct {
	Op      string `json:"op"`
	Channel string `json:"channel"`
	Private string `json:"private"`
	ID      string `json:"id"`
	Message string `json:"message"`
	Success *bool  `json:"success"`

	Result json.RawMessage `json:"result"`

	Ticker    *tickerMsg      `json:"ticker"`
	Depth     *depthMsg       `json:"depth"`
	Trade     *tradeMsg       `json:"trade"`
	UserOrder json.RawMessage `json:"user_order"`
	Wallet    *walletMsg      `json:"wallet"`
	Lag       *lagMsg         `json:"lag"`
}

// currencyValue is the exchange's tagged fixed-point value.
type currencyValue struct {
	ValueInt schema.FlexInt `json:"value_int"`
	Currency string         `json:"currency"`
}

type tickerMsg struct {
	Buy  currencyValue `json:"buy"`
	Sell currencyValue `json:"sell"`
}

type depthMsg struct {
	Currency       string         `json:"currency"`
	TypeStr        string         `json:"type_str"`
	PriceInt       schema.FlexInt `json:"price_int"`
	TotalVolumeInt schema.FlexInt `json:"total_volume_int"`
}

type tradeMsg struct {
	PriceCurrency string         `json:"price_currency"`
	TradeType     string         `json:"trade_type"`
	PriceInt      schema.FlexInt `json:"price_int"`
	AmountInt     schema.FlexInt `json:"amount_int"`
	Date          schema.FlexInt `json:"date"`
}

type userOrderMsg struct {
	OID    string         `json:"oid"`
	Type   string         `json:"type"`
	Status string         `json:"status"`
	Price  *currencyValue `json:"price"`
	Amount *currencyValue `json:"amount"`
}

type walletMsg struct {
	Balance currencyValue `json:"balance"`
}

type lagMsg struct {
	Age  schema.FlexInt `json:"age"`
	Text string         `json:"age_text"`
}

// orderEntry is one element of the authoritative open-orders result.
type orderEntry struct {
	OID    string        `json:"oid"`
	Type   string        `json:"type"`
	Status string        `json:"status"`
	Item   string        `json:"item"`
	Price  currencyValue `json:"price"`
	Amount currencyValue `json:"amount"`
}

// infoResult is the subset of the account-info result we consume.
type infoResult struct {
	Wallets map[string]struct {
		Balance currencyValue `json:"Balance"`
	} `json:"Wallets"`
}

type lagResult struct {
	Lag     schema.FlexInt `json:"lag"`
	LagText string         `json:"lag_text"`
}
