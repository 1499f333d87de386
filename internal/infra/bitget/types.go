package bitget

const (
	PublicWSURL  = "wss://ws.bitget.com/v2/ws/public"
	PrivateWSURL = "wss://ws.bitget.com/v2/ws/private"

	successCode = "00000"
)

// subscribeRequest Structure
type subscribeRequest struct {
	Op   string         `json:"op"`
	Args []subscribeArg `json:"args"`
}

type subscribeArg struct {
	InstType string `json:"instType"`
	Channel  string `json:"channel"`
	InstId   string `json:"instId,omitempty"`
	Coin     string `json:"coin,omitempty"`
}

type loginRequest struct {
	Op   string     `json:"op"`
	Args []loginArg `json:"args"`
}

type loginArg struct {
	ApiKey     string `json:"apiKey"`
	Passphrase string `json:"passphrase"`
	Timestamp  string `json:"timestamp"`
	Sign       string `json:"sign"`
}

// eventResponse is the reply to login and subscribe requests.
type eventResponse struct {
	Event string `json:"event"`
	Code  any    `json:"code"`
	Msg   string `json:"msg"`
}

// pushMessage is any channel push; Data is decoded per channel.
type pushMessage[T any] struct {
	Action string       `json:"action"`
	Arg    subscribeArg `json:"arg"`
	Data   []T          `json:"data"`
	Ts     int64        `json:"ts"`
}

type tickerData struct {
	InstId string `json:"instId"`
	LastPr string `json:"lastPr"`
	BidPr  string `json:"bidPr"`
	AskPr  string `json:"askPr"`
	BidSz  string `json:"bidSz"`
	AskSz  string `json:"askSz"`
}

type accountData struct {
	Coin      string `json:"coin"`
	Available string `json:"available"`
	Frozen    string `json:"frozen"`
}

type orderData struct {
	InstId        string `json:"instId"`
	OrderId       string `json:"orderId"`
	ClientOid     string `json:"clientOid"`
	Side          string `json:"side"`
	Price         string `json:"price"`
	PriceAvg      string `json:"priceAvg"`
	AccBaseVolume string `json:"accBaseVolume"`
	Status        string `json:"status"`
}

type apiResponse struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
}

type placeOrderData struct {
	OrderId   string `json:"orderId"`
	ClientOid string `json:"clientOid"`
}

type assetData struct {
	Coin      string `json:"coin"`
	Available string `json:"available"`
}
