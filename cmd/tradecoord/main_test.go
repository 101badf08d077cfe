package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

type recordedRequest struct {
	method string
	path   string
	body   map[string]interface{}
}

func newTestDaemon(t *testing.T) (*httptest.Server, *[]recordedRequest) {
	reqs := make([]recordedRequest, 0)
	mux := http.NewServeMux()
	record := func(w http.ResponseWriter, r *http.Request) {
		body := map[string]interface{}{}
		// nolint
		json.NewDecoder(r.Body).Decode(&body)
		reqs = append(reqs, recordedRequest{r.Method, r.URL.RequestURI(), body})
	}

	mux.HandleFunc("GET /v1/trade", func(w http.ResponseWriter, r *http.Request) {
		record(w, r)
		w.Write([]byte(`{"trade":{"phase":"IDLE"}}`))
	})
	mux.HandleFunc("POST /v1/trade/ready", func(w http.ResponseWriter, r *http.Request) {
		record(w, r)
		w.Write([]byte(`{"trade":{"phase":"SELLER_READY"}}`))
	})
	mux.HandleFunc("POST /v1/trade/offer", func(w http.ResponseWriter, r *http.Request) {
		record(w, r)
		w.Write([]byte(`{"trade":{"phase":"OFFER_SUBMITTED"}}`))
	})
	mux.HandleFunc("POST /v1/trade/release", func(w http.ResponseWriter, r *http.Request) {
		record(w, r)
		w.WriteHeader(http.StatusConflict)
		w.Write([]byte(`{"error":"invalid state"}`))
	})
	mux.HandleFunc("POST /v1/webhooks", func(w http.ResponseWriter, r *http.Request) {
		record(w, r)
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"id":"hook1"}`))
	})
	mux.HandleFunc("GET /v1/webhooks", func(w http.ResponseWriter, r *http.Request) {
		record(w, r)
		w.Write([]byte(`{"webhooks":[]}`))
	})
	mux.HandleFunc("DELETE /v1/webhooks/{id}", func(w http.ResponseWriter, r *http.Request) {
		record(w, r)
		w.WriteHeader(http.StatusNoContent)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &reqs
}

func run(t *testing.T, srv *httptest.Server, args ...string) (string, error) {
	app := newApp()
	out := &bytes.Buffer{}
	app.Writer = out
	err := app.Run(append([]string{"tradecoord", "--rpcserver", srv.URL}, args...))
	return out.String(), err
}

func TestTradeCommands(t *testing.T) {
	srv, reqs := newTestDaemon(t)

	out, err := run(t, srv, "status")
	require.NoError(t, err)
	require.Contains(t, out, "IDLE")

	out, err = run(t, srv, "ready", "--price", "120.50")
	require.NoError(t, err)
	require.Contains(t, out, "SELLER_READY")
	require.Equal(t, "120.5", (*reqs)[1].body["price"])

	_, err = run(t, srv, "ready", "--price", "abc")
	require.Error(t, err)

	out, err = run(t, srv,
		"offer", "--amount", "100", "--platform", "instagram",
		"--username", "@shop", "--password", "secret",
	)
	require.NoError(t, err)
	require.Contains(t, out, "OFFER_SUBMITTED")
	offerReq := (*reqs)[2]
	require.Equal(t, "instagram", offerReq.body["platform"])
	require.Equal(t, "@shop", offerReq.body["account_username"])
	require.Equal(t, "secret", offerReq.body["social_account_password"])

	_, err = run(t, srv, "offer", "--amount", "-1", "--platform", "x", "--username", "y")
	require.Error(t, err)

	_, err = run(t, srv, "release", "--pin", "1234")
	require.EqualError(t, err, "invalid state")
}

func TestWebhookCommands(t *testing.T) {
	srv, reqs := newTestDaemon(t)

	out, err := run(t, srv,
		"webhook", "add", "--event", "TRADE_COMPLETED",
		"--endpoint", "http://localhost/hook",
	)
	require.NoError(t, err)
	require.Contains(t, out, "hook1")

	_, err = run(t, srv, "webhook", "list", "--event", "*")
	require.NoError(t, err)
	require.Equal(t, "/v1/webhooks?event=%2A", (*reqs)[1].path)

	out, err = run(t, srv, "webhook", "remove", "hook1")
	require.NoError(t, err)
	require.Contains(t, out, "removed")

	_, err = run(t, srv, "webhook", "remove")
	require.Error(t, err)
}
