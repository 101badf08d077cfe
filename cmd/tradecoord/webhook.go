package main

import (
	"fmt"
	"net/http"
	"net/url"

	"github.com/urfave/cli/v2"
)

var webhook = cli.Command{
	Name:  "webhook",
	Usage: "manage the webhooks notified of trade events",
	Subcommands: []*cli.Command{
		{
			Name:  "add",
			Usage: "add a webhook registered for some event",
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:     "event",
					Usage:    "TRADE_COMPLETED, TRADE_CANCELLED, PHASE_CHANGED or * for any",
					Required: true,
				},
				&cli.StringFlag{
					Name:     "endpoint",
					Usage:    "the endpoint where to notify the webhook",
					Required: true,
				},
				&cli.StringFlag{
					Name:  "secret",
					Usage: "the eventual secret to authenticate requests",
				},
			},
			Action: addWebhookAction,
		},
		{
			Name:      "remove",
			Usage:     "remove the webhook with the given id",
			ArgsUsage: "<id>",
			Action:    removeWebhookAction,
		},
		{
			Name:  "list",
			Usage: "list the registered webhooks",
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:  "event",
					Usage: "the event to filter hooks by",
				},
			},
			Action: listWebhooksAction,
		},
	},
}

func addWebhookAction(ctx *cli.Context) error {
	client := getOperatorClient(ctx)

	reply, err := client.call(http.MethodPost, "/v1/webhooks", map[string]string{
		"event":    ctx.String("event"),
		"endpoint": ctx.String("endpoint"),
		"secret":   ctx.String("secret"),
	})
	if err != nil {
		return err
	}

	fmt.Fprintln(client.out, "hook id:", reply["id"])
	return nil
}

func removeWebhookAction(ctx *cli.Context) error {
	id := ctx.Args().First()
	if id == "" {
		return fmt.Errorf("missing webhook id")
	}
	client := getOperatorClient(ctx)

	if _, err := client.call(
		http.MethodDelete, "/v1/webhooks/"+url.PathEscape(id), nil,
	); err != nil {
		return err
	}

	fmt.Fprintln(client.out, "removed")
	return nil
}

func listWebhooksAction(ctx *cli.Context) error {
	path := "/v1/webhooks"
	if event := ctx.String("event"); event != "" {
		path += "?event=" + url.QueryEscape(event)
	}
	return doAndPrint(ctx, http.MethodGet, path, nil)
}
