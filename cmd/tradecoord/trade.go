package main

import (
	"fmt"
	"net/http"

	"github.com/shopspring/decimal"
	"github.com/urfave/cli/v2"
)

var status = cli.Command{
	Name:   "status",
	Usage:  "show the trade in progress on the channel",
	Action: statusAction,
}

var ready = cli.Command{
	Name:  "ready",
	Usage: "announce the seller is ready to trade at the given price",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:     "price",
			Usage:    "the asking price",
			Required: true,
		},
	},
	Action: readyAction,
}

var accept = cli.Command{
	Name:   "accept",
	Usage:  "accept the seller-ready announcement as buyer",
	Action: acceptAction,
}

var offer = cli.Command{
	Name:  "offer",
	Usage: "hand over the asset details and credentials to the buyer",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:     "amount",
			Usage:    "the amount of the trade",
			Required: true,
		},
		&cli.StringFlag{
			Name:  "currency",
			Usage: "the currency of the amount, defaults to the daemon's one",
		},
		&cli.StringFlag{
			Name:  "payment_method",
			Usage: "the payment method the buyer is expected to use",
		},
		&cli.StringFlag{
			Name:  "network",
			Usage: "the payment network",
		},
		&cli.StringFlag{
			Name:     "platform",
			Usage:    "the platform of the account being sold",
			Required: true,
		},
		&cli.StringFlag{
			Name:     "username",
			Usage:    "the username of the account being sold",
			Required: true,
		},
		&cli.StringFlag{
			Name:  "email",
			Usage: "the original email of the account",
		},
		&cli.StringFlag{
			Name:  "email_password",
			Usage: "the password of the original email",
		},
		&cli.StringFlag{
			Name:  "password",
			Usage: "the password of the account",
		},
	},
	Action: offerAction,
}

var lock = cli.Command{
	Name:   "lock",
	Usage:  "accept the invoice and lock the funds in escrow",
	Action: lockAction,
}

var release = cli.Command{
	Name:  "release",
	Usage: "release the escrowed funds to the seller",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:     "pin",
			Usage:    "the transaction pin",
			Required: true,
		},
	},
	Action: releaseAction,
}

var cancelTrade = cli.Command{
	Name:   "cancel",
	Usage:  "cancel the trade or ask the counterpart to cancel it",
	Action: cancelAction,
}

var trades = cli.Command{
	Name:   "trades",
	Usage:  "list the closed trades",
	Action: tradesAction,
}

func statusAction(ctx *cli.Context) error {
	return doAndPrint(ctx, http.MethodGet, "/v1/trade", nil)
}

func readyAction(ctx *cli.Context) error {
	price, err := decimal.NewFromString(ctx.String("price"))
	if err != nil {
		return fmt.Errorf("invalid price: %s", err)
	}
	return doAndPrint(ctx, http.MethodPost, "/v1/trade/ready", map[string]interface{}{
		"price": price,
	})
}

func acceptAction(ctx *cli.Context) error {
	return doAndPrint(ctx, http.MethodPost, "/v1/trade/accept", nil)
}

func offerAction(ctx *cli.Context) error {
	amount, err := decimal.NewFromString(ctx.String("amount"))
	if err != nil {
		return fmt.Errorf("invalid amount: %s", err)
	}
	if !amount.IsPositive() {
		return fmt.Errorf("amount must be positive")
	}

	return doAndPrint(ctx, http.MethodPost, "/v1/trade/offer", map[string]interface{}{
		"amount":                  amount,
		"currency":                ctx.String("currency"),
		"payment_method":          ctx.String("payment_method"),
		"network":                 ctx.String("network"),
		"platform":                ctx.String("platform"),
		"account_username":        ctx.String("username"),
		"account_original_email":  ctx.String("email"),
		"original_email_password": ctx.String("email_password"),
		"social_account_password": ctx.String("password"),
	})
}

func lockAction(ctx *cli.Context) error {
	return doAndPrint(ctx, http.MethodPost, "/v1/trade/lock", nil)
}

func releaseAction(ctx *cli.Context) error {
	return doAndPrint(ctx, http.MethodPost, "/v1/trade/release", map[string]string{
		"pin": ctx.String("pin"),
	})
}

func cancelAction(ctx *cli.Context) error {
	return doAndPrint(ctx, http.MethodPost, "/v1/trade/cancel", nil)
}

func tradesAction(ctx *cli.Context) error {
	return doAndPrint(ctx, http.MethodGet, "/v1/trades", nil)
}

func doAndPrint(ctx *cli.Context, method, path string, req interface{}) error {
	client := getOperatorClient(ctx)

	reply, err := client.call(method, path, req)
	if err != nil {
		return err
	}

	client.printJSON(reply)
	return nil
}
