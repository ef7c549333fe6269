package domain

// MessageKind distinguishes the two payload types carried by the combined
// market stream.
type MessageKind string

const (
	MessageTicker  MessageKind = "ticker"
	MessageFunding MessageKind = "funding"
)

// RawTicker is one entry of the exchange's 24hr ticker array stream.
// Numeric fields arrive as strings.
type RawTicker struct {
	EventType          string `json:"e"`
	EventTime          int64  `json:"E"`
	Symbol             string `json:"s"`
	LastPrice          string `json:"c"`
	OpenPrice          string `json:"o"`
	PriceChangePercent string `json:"P"`
	QuoteVolume        string `json:"q"`
}

// RawMarkPrice is one entry of the mark-price/funding array stream.
type RawMarkPrice struct {
	EventType   string `json:"e"`
	EventTime   int64  `json:"E"`
	Symbol      string `json:"s"`
	MarkPrice   string `json:"p"`
	FundingRate string `json:"r"`
}

// FeedMessage is one decoded message from the feed connection, delivered to
// the ingestion pipeline in arrival order.
type FeedMessage struct {
	Kind       MessageKind
	Tickers    []RawTicker
	MarkPrices []RawMarkPrice
}
