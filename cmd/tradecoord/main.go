package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/urfave/cli/v2"
)

const defaultRPCServer = "http://localhost:9000"

var rpcServerFlag = &cli.StringFlag{
	Name:    "rpcserver",
	Usage:   "the address of the operator interface of tradecoordd",
	EnvVars: []string{"TRADECOORD_RPC"},
	Value:   defaultRPCServer,
}

func main() {
	app := newApp()
	if err := app.Run(os.Args); err != nil {
		fatal(err)
	}
}

func newApp() *cli.App {
	app := cli.NewApp()

	app.Version = "0.1.0"
	app.Name = "tradecoord operator CLI"
	app.Usage = "Command line interface for tradecoordd operators"
	app.Flags = []cli.Flag{rpcServerFlag}
	app.Commands = append(
		app.Commands,
		&status,
		&ready,
		&accept,
		&offer,
		&lock,
		&release,
		&cancelTrade,
		&trades,
		&webhook,
	)
	return app
}

// operatorClient sends JSON requests to the operator interface.
type operatorClient struct {
	baseURL string
	http    *http.Client
	out     io.Writer
}

func getOperatorClient(ctx *cli.Context) *operatorClient {
	baseURL := strings.TrimRight(ctx.String(rpcServerFlag.Name), "/")
	if !strings.Contains(baseURL, "://") {
		baseURL = "http://" + baseURL
	}
	return &operatorClient{
		baseURL: baseURL,
		http:    &http.Client{Timeout: time.Minute},
		out:     ctx.App.Writer,
	}
}

// call returns the decoded body of the response, or an error carrying the
// message returned by the daemon for any status >= 400.
func (c *operatorClient) call(
	method, path string, req interface{},
) (map[string]interface{}, error) {
	var body io.Reader
	if req != nil {
		buf, err := json.Marshal(req)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(buf)
	}

	httpReq, err := http.NewRequest(method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("unable to reach daemon: %w", err)
	}
	defer resp.Body.Close()

	res := map[string]interface{}{}
	if resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
			return nil, fmt.Errorf("unable to decode response: %w", err)
		}
	}
	if resp.StatusCode >= http.StatusBadRequest {
		msg, _ := res["error"].(string)
		if msg == "" {
			msg = resp.Status
		}
		return nil, fmt.Errorf("%s", msg)
	}
	return res, nil
}

func (c *operatorClient) printJSON(resp interface{}) {
	buf, err := json.MarshalIndent(resp, "", "\t")
	if err != nil {
		fmt.Fprintln(c.out, "unable to decode response: ", err)
		return
	}
	fmt.Fprintln(c.out, string(buf))
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "[tradecoord] %v\n", err)
	os.Exit(1)
}
