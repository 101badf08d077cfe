package signal

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/escrowchat/tradecoord/internal/core/domain"
	"github.com/escrowchat/tradecoord/internal/core/ports"
)

var (
	errFlagNotSet     = errors.New("flag field is not set")
	errMissingField   = errors.New("missing required field")
	errUnexpectedType = errors.New("unexpected value type")
	errUnknownKind    = errors.New("unknown kind")
)

// Decode classifies a message and parses its payload into the matching
// Signal. It never fails: messages that are not signals, or that carry a
// malformed payload, are returned as Unrecognized.
func Decode(msg ports.Message) Signal {
	kind := Kind(strings.TrimSpace(msg.Kind))
	if kind == KindUnrecognized {
		kind = inferKind(msg.Payload)
	}

	var (
		s   Signal
		err error
	)
	switch kind {
	case KindUnrecognized:
		return Unrecognized{Err: ErrNotSignal}
	case KindSellerReady:
		s, err = decodeSellerReady(msg.Payload)
	case KindTradeOffer:
		s, err = decodeTradeOffer(msg.Payload)
	case KindTradeAccept:
		s, err = decodeTradeAccept(msg.Payload)
	case KindFundLockNotice:
		s, err = decodeFundLockNotice(msg.Payload)
	case KindFundReleaseNotice:
		s, err = decodeFundReleaseNotice(msg.Payload)
	case KindCancelRequest:
		s, err = decodeCancelRequest(msg.Payload)
	case KindTradeCancelled:
		s, err = decodeTradeCancelled(msg.Payload)
	default:
		err = errUnknownKind
	}
	if err != nil {
		return Unrecognized{
			RawKind: msg.Kind,
			Err:     &domain.ParseError{Kind: string(kind), Err: err},
		}
	}
	return s
}

// Encode serializes the signal into the payload peers expect, together with
// a human readable text line.
func Encode(s Signal) (ports.OutboundMessage, error) {
	switch v := s.(type) {
	case SellerReady:
		return outbound(KindSellerReady, fmt.Sprintf(
			"%s is ready to sell for %s", nameOr(v.SellerName, "Seller"),
			v.Price.String(),
		), sellerReadyPayload{
			SellerReady:       true,
			SellerInitiatorID: v.SellerID,
			SellerName:        v.SellerName,
			TradePrice:        number{v.Price},
		})
	case TradeAccept:
		acceptedAt := v.AcceptedAt
		if acceptedAt.IsZero() {
			acceptedAt = time.Now()
		}
		return outbound(KindTradeAccept, fmt.Sprintf(
			"%s accepted the trade", nameOr(v.AcceptorName, "Buyer"),
		), tradeAcceptPayload{
			TradeAccepted: true,
			AcceptedBy:    v.AcceptedBy,
			AcceptorName:  v.AcceptorName,
			AcceptedAt:    acceptedAt.UTC().Format(time.RFC3339),
		})
	case FundLockNotice:
		return outbound(KindFundLockNotice,
			"Funds are locked in escrow, waiting for the account handover",
			fundLockPayload{
				BuyerInitiated: true,
				TransactionID:  v.TransactionID.String(),
				SellerID:       v.SellerID,
				TimerDuration:  int64(v.TimerDuration / time.Second),
			})
	case TradeCancelled:
		return outbound(KindTradeCancelled, "The trade was cancelled", map[string]bool{
			fieldTradeCancelled: true,
		})
	case TradeOffer:
		data, err := json.Marshal(tradeInitData{
			TradeInitiated:        true,
			TransactionID:         v.TransactionID.String(),
			SellerID:              v.SellerID,
			BuyerID:               v.BuyerID,
			OfferAmount:           number{v.Amount},
			PaymentMethod:         v.PaymentMethod,
			PaymentNetwork:        v.Network,
			AccountOriginalEmail:  v.Credentials.OriginalEmail,
			OriginalEmailPassword: v.Credentials.OriginalEmailPassword,
			SocialAccountPassword: v.Credentials.AccountPassword,
			Platform:              v.Asset.Platform,
			AccountUsername:       v.Asset.AccountUsername,
			SellerName:            v.SellerName,
		})
		if err != nil {
			return ports.OutboundMessage{}, err
		}
		return outbound(KindTradeOffer, fmt.Sprintf(
			"Offer: %s account @%s for %s", v.Asset.Platform,
			v.Asset.AccountUsername, v.Amount.String(),
		), map[string]string{fieldTradeInitData: string(data)})
	case FundReleaseNotice:
		data, err := json.Marshal(fundsReleasedData{
			FundsReleased: true,
			TransactionID: v.TransactionID.String(),
			BuyerID:       v.BuyerID,
			SellerID:      v.SellerID,
			Amount:        number{v.Amount},
			Currency:      v.Currency,
			BuyerName:     v.BuyerName,
		})
		if err != nil {
			return ports.OutboundMessage{}, err
		}
		return outbound(KindFundReleaseNotice, fmt.Sprintf(
			"%s released %s %s to the seller", nameOr(v.BuyerName, "Buyer"),
			v.Amount.String(), v.Currency,
		), map[string]string{fieldFundsReleasedData: string(data)})
	case CancelRequest:
		data, err := json.Marshal(cancelRequestData{
			CancelRequest:       true,
			ActiveTransactionID: v.ActiveTransactionID.String(),
			RequesterID:         v.RequesterID,
			BuyerID:             v.BuyerID,
		})
		if err != nil {
			return ports.OutboundMessage{}, err
		}
		return outbound(KindCancelRequest,
			"The seller asked to cancel the trade",
			map[string]string{fieldCancelRequestData: string(data)})
	default:
		return ports.OutboundMessage{}, fmt.Errorf(
			"cannot encode signal of kind %q", s.Kind(),
		)
	}
}

func outbound(kind Kind, text string, payload interface{}) (ports.OutboundMessage, error) {
	buf, err := json.Marshal(payload)
	if err != nil {
		return ports.OutboundMessage{}, err
	}
	m := make(map[string]interface{})
	dec := json.NewDecoder(bytes.NewReader(buf))
	dec.UseNumber()
	if err := dec.Decode(&m); err != nil {
		return ports.OutboundMessage{}, err
	}
	return ports.OutboundMessage{Kind: string(kind), Text: text, Payload: m}, nil
}

func inferKind(payload map[string]interface{}) Kind {
	for _, f := range flagFields {
		if _, ok := payload[f.field]; ok {
			return f.kind
		}
	}
	return KindUnrecognized
}

// unmarshalPayload re-encodes the generic payload into the typed wire struct.
func unmarshalPayload(payload map[string]interface{}, v interface{}) error {
	buf, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return json.Unmarshal(buf, v)
}

// unmarshalEmbedded parses a field that carries a JSON document encoded as a
// string. Some transports deliver it already decoded as an object.
func unmarshalEmbedded(
	payload map[string]interface{}, field string, v interface{},
) error {
	raw, ok := payload[field]
	if !ok || raw == nil {
		return fmt.Errorf("%w: %s", errMissingField, field)
	}
	switch val := raw.(type) {
	case string:
		return json.Unmarshal([]byte(val), v)
	case map[string]interface{}:
		return unmarshalPayload(val, v)
	default:
		return fmt.Errorf("%w: %s is %T", errUnexpectedType, field, raw)
	}
}

func decodeSellerReady(payload map[string]interface{}) (Signal, error) {
	var p sellerReadyPayload
	if err := unmarshalPayload(payload, &p); err != nil {
		return nil, err
	}
	if !p.SellerReady {
		return nil, fmt.Errorf("%w: %s", errFlagNotSet, fieldSellerReady)
	}
	if p.SellerInitiatorID == "" {
		return nil, fmt.Errorf("%w: seller_initiator_id", errMissingField)
	}
	return SellerReady{
		SellerID:   p.SellerInitiatorID,
		SellerName: p.SellerName,
		Price:      p.TradePrice.Decimal,
	}, nil
}

func decodeTradeOffer(payload map[string]interface{}) (Signal, error) {
	var d tradeInitData
	if err := unmarshalEmbedded(payload, fieldTradeInitData, &d); err != nil {
		return nil, err
	}
	if !d.TradeInitiated {
		return nil, fmt.Errorf("%w: trade_initiated", errFlagNotSet)
	}
	if d.SellerID == "" || d.BuyerID == "" {
		return nil, fmt.Errorf("%w: seller_id or buyer_id", errMissingField)
	}
	return TradeOffer{
		TransactionID: domain.ReportedID(d.TransactionID),
		SellerID:      d.SellerID,
		BuyerID:       d.BuyerID,
		SellerName:    d.SellerName,
		Amount:        d.OfferAmount.Decimal,
		PaymentMethod: d.PaymentMethod,
		Network:       d.PaymentNetwork,
		Asset: domain.Asset{
			Platform:        d.Platform,
			AccountUsername: d.AccountUsername,
		},
		Credentials: domain.Credentials{
			OriginalEmail:         d.AccountOriginalEmail,
			OriginalEmailPassword: d.OriginalEmailPassword,
			AccountPassword:       d.SocialAccountPassword,
		},
	}, nil
}

func decodeTradeAccept(payload map[string]interface{}) (Signal, error) {
	var p tradeAcceptPayload
	if err := unmarshalPayload(payload, &p); err != nil {
		return nil, err
	}
	if !p.TradeAccepted {
		return nil, fmt.Errorf("%w: %s", errFlagNotSet, fieldTradeAccepted)
	}
	var acceptedAt time.Time
	if p.AcceptedAt != "" {
		t, err := time.Parse(time.RFC3339, p.AcceptedAt)
		if err != nil {
			return nil, fmt.Errorf("accepted_at: %w", err)
		}
		acceptedAt = t
	}
	return TradeAccept{
		AcceptedBy:   p.AcceptedBy,
		AcceptorName: p.AcceptorName,
		AcceptedAt:   acceptedAt,
	}, nil
}

func decodeFundLockNotice(payload map[string]interface{}) (Signal, error) {
	var p fundLockPayload
	if err := unmarshalPayload(payload, &p); err != nil {
		return nil, err
	}
	if !p.BuyerInitiated {
		return nil, fmt.Errorf("%w: %s", errFlagNotSet, fieldBuyerInitiated)
	}
	if p.TimerDuration < 0 {
		return nil, fmt.Errorf("%w: negative timer_duration", errUnexpectedType)
	}
	return FundLockNotice{
		TransactionID: domain.ReportedID(p.TransactionID),
		SellerID:      p.SellerID,
		TimerDuration: time.Duration(p.TimerDuration) * time.Second,
	}, nil
}

func decodeFundReleaseNotice(payload map[string]interface{}) (Signal, error) {
	var d fundsReleasedData
	if err := unmarshalEmbedded(payload, fieldFundsReleasedData, &d); err != nil {
		return nil, err
	}
	if !d.FundsReleased {
		return nil, fmt.Errorf("%w: funds_released", errFlagNotSet)
	}
	return FundReleaseNotice{
		TransactionID: domain.ReportedID(d.TransactionID),
		BuyerID:       d.BuyerID,
		SellerID:      d.SellerID,
		BuyerName:     d.BuyerName,
		Amount:        d.Amount.Decimal,
		Currency:      d.Currency,
	}, nil
}

func decodeCancelRequest(payload map[string]interface{}) (Signal, error) {
	var d cancelRequestData
	if err := unmarshalEmbedded(payload, fieldCancelRequestData, &d); err != nil {
		return nil, err
	}
	if !d.CancelRequest {
		return nil, fmt.Errorf("%w: cancel_request", errFlagNotSet)
	}
	return CancelRequest{
		ActiveTransactionID: domain.ReportedID(d.ActiveTransactionID),
		RequesterID:         d.RequesterID,
		BuyerID:             d.BuyerID,
	}, nil
}

func decodeTradeCancelled(payload map[string]interface{}) (Signal, error) {
	flag, ok := payload[fieldTradeCancelled].(bool)
	if !ok || !flag {
		return nil, fmt.Errorf("%w: %s", errFlagNotSet, fieldTradeCancelled)
	}
	return TradeCancelled{}, nil
}

func nameOr(name, fallback string) string {
	if name == "" {
		return fallback
	}
	return name
}
