package signal

import (
	"bytes"

	"github.com/shopspring/decimal"
)

// number is a decimal that is encoded as a bare JSON number and decoded from
// either a number or a quoted string.
type number struct {
	decimal.Decimal
}

func (n number) MarshalJSON() ([]byte, error) {
	return []byte(n.Decimal.String()), nil
}

func (n *number) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		n.Decimal = decimal.Zero
		return nil
	}
	return n.Decimal.UnmarshalJSON(data)
}

type sellerReadyPayload struct {
	SellerReady       bool   `json:"seller_ready"`
	SellerInitiatorID string `json:"seller_initiator_id"`
	SellerName        string `json:"seller_name"`
	TradePrice        number `json:"trade_price"`
}

type tradeInitData struct {
	TradeInitiated        bool   `json:"trade_initiated"`
	TransactionID         string `json:"transaction_id"`
	SellerID              string `json:"seller_id"`
	BuyerID               string `json:"buyer_id"`
	OfferAmount           number `json:"offer_amount"`
	PaymentMethod         string `json:"payment_method"`
	PaymentNetwork        string `json:"payment_network"`
	AccountOriginalEmail  string `json:"account_original_email"`
	OriginalEmailPassword string `json:"original_email_password"`
	SocialAccountPassword string `json:"social_account_password"`
	Platform              string `json:"platform"`
	AccountUsername       string `json:"account_username"`
	SellerName            string `json:"seller_name"`
}

type tradeAcceptPayload struct {
	TradeAccepted bool   `json:"trade_accepted"`
	AcceptedBy    string `json:"accepted_by"`
	AcceptorName  string `json:"acceptor_name"`
	AcceptedAt    string `json:"accepted_at"`
}

type fundLockPayload struct {
	BuyerInitiated bool   `json:"buyer_initiated"`
	TransactionID  string `json:"transaction_id"`
	SellerID       string `json:"seller_id"`
	TimerDuration  int64  `json:"timer_duration"`
}

type fundsReleasedData struct {
	FundsReleased bool   `json:"funds_released"`
	TransactionID string `json:"transaction_id"`
	BuyerID       string `json:"buyer_id"`
	SellerID      string `json:"seller_id"`
	Amount        number `json:"amount"`
	Currency      string `json:"currency"`
	BuyerName     string `json:"buyer_name"`
}

type cancelRequestData struct {
	CancelRequest       bool   `json:"cancel_request"`
	ActiveTransactionID string `json:"active_transaction_id"`
	RequesterID         string `json:"requester_id"`
	BuyerID             string `json:"buyer_id"`
}

// Payload field names.
const (
	fieldSellerReady       = "seller_ready"
	fieldTradeInitData     = "trade_init_data"
	fieldTradeAccepted     = "trade_accepted"
	fieldBuyerInitiated    = "buyer_initiated"
	fieldFundsReleasedData = "funds_released_data"
	fieldCancelRequestData = "cancel_request_data"
	fieldTradeCancelled    = "trade_cancelled"
)

// flagFields is used to infer the kind of a message whose kind field was
// stripped by the transport.
var flagFields = []struct {
	field string
	kind  Kind
}{
	{fieldSellerReady, KindSellerReady},
	{fieldTradeInitData, KindTradeOffer},
	{fieldTradeAccepted, KindTradeAccept},
	{fieldBuyerInitiated, KindFundLockNotice},
	{fieldFundsReleasedData, KindFundReleaseNotice},
	{fieldCancelRequestData, KindCancelRequest},
	{fieldTradeCancelled, KindTradeCancelled},
}
