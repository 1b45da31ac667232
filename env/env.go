package env

// Environment variable names
const (
	// base url for the market data REST API
	MARKET_API_URL = "MARKET_API_URL"
	// websocket endpoint of the streaming price feed
	PRICE_FEED_WS = "PRICE_FEED_WS"
	CONFIG_PATH   = "CONFIG_PATH"
	REDIS_ADDR    = "REDIS_ADDR"
	REDIS_PW      = "REDIS_PW"
	WS_ADDR       = "WS_ADDR"
)
