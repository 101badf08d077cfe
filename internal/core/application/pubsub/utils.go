package pubsub

import (
	"errors"

	"github.com/escrowchat/tradecoord/internal/core/domain"
)

var (
	// ErrPubSubNotInitialized is returned when managing webhooks without a
	// pubsub service.
	ErrPubSubNotInitialized = errors.New("webhook manager is not initialized")
	// ErrInvalidWebhook ...
	ErrInvalidWebhook = errors.New("invalid webhook")
)

// getTradePayload never includes the credentials handed over with the offer.
func getTradePayload(t *domain.Trade) map[string]interface{} {
	trade := map[string]interface{}{
		"id":             t.ID,
		"channel_id":     t.ChannelID,
		"buyer_id":       t.BuyerID,
		"seller_id":      t.SellerID,
		"price":          t.Price.String(),
		"invoice_id":     t.InvoiceID.String(),
		"transaction_id": t.TransactionID.String(),
	}
	if t.Offer != nil {
		trade["amount"] = t.Offer.Amount.String()
		trade["currency"] = t.Offer.Currency
		trade["asset"] = map[string]string{
			"platform":         t.Offer.Asset.Platform,
			"account_username": t.Offer.Asset.AccountUsername,
		}
	}
	return trade
}

func getRecordPayload(r domain.TradeRecord) map[string]interface{} {
	return map[string]interface{}{
		"id":             r.ID,
		"channel_id":     r.ChannelID,
		"buyer_id":       r.BuyerID,
		"seller_id":      r.SellerID,
		"amount":         r.Amount.String(),
		"currency":       r.Currency,
		"invoice_id":     r.InvoiceID.String(),
		"transaction_id": r.TransactionID.String(),
		"phase":          r.Phase.String(),
		"asset": map[string]string{
			"platform":         r.Asset.Platform,
			"account_username": r.Asset.AccountUsername,
		},
	}
}
