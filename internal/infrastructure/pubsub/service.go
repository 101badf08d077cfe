// Package pubsub delivers trade events to webhook endpoints. Subscriptions
// are kept in a badgerhold store.
package pubsub

import (
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/escrowchat/tradecoord/internal/core/ports"
	"github.com/escrowchat/tradecoord/pkg/circuitbreaker"
	"github.com/golang-jwt/jwt"
	log "github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
	"github.com/timshannon/badgerhold/v4"
	"golang.org/x/sync/errgroup"
)

const DefaultRequestTimeout = 15 * time.Second

type service struct {
	store      store
	httpClient *http.Client
	cb         *gobreaker.CircuitBreaker
}

func NewService(
	db *badgerhold.Store, requestTimeout time.Duration,
) (ports.PubSub, error) {
	if db == nil {
		return nil, fmt.Errorf("missing subscriptions store")
	}
	if requestTimeout <= 0 {
		requestTimeout = DefaultRequestTimeout
	}

	return &service{
		store:      store{db},
		httpClient: &http.Client{Timeout: requestTimeout},
		cb:         circuitbreaker.NewCircuitBreaker("webhooks"),
	}, nil
}

func (ws *service) Subscribe(topic, endpoint, secret string) (string, error) {
	sub, err := NewSubscription(topic, endpoint, secret)
	if err != nil {
		return "", err
	}
	if err := ws.store.add(sub); err != nil {
		return "", err
	}
	return sub.ID, nil
}

func (ws *service) Unsubscribe(_, id string) error {
	return ws.store.remove(id)
}

func (ws *service) ListSubscriptionsForTopic(topic string) []ports.Subscription {
	return ws.listSubscriptionsForTopic(topic).toPortable()
}

func (ws *service) Publish(topic string, message string) error {
	subs := ws.listSubscriptionsForTopic(topic)

	eg := &errgroup.Group{}
	for i := range subs {
		sub := subs[i]
		eg.Go(func() error { return ws.doRequest(topic, sub, message) })
	}
	return eg.Wait()
}

func (ws *service) Close() error {
	return ws.store.close()
}

// listSubscriptionsForTopic includes those registered for any topic.
func (ws *service) listSubscriptionsForTopic(topic string) subscriptions {
	subs, err := ws.store.forTopic(topic)
	if err != nil {
		log.WithError(err).Warnf("failed to read subscriptions for topic %s", topic)
		return nil
	}
	if topic != ports.AnyTopic && topic != ports.UnspecifiedTopic {
		subsForAnyTopic, err := ws.store.forTopic(ports.AnyTopic)
		if err != nil {
			log.WithError(err).Warn("failed to read subscriptions for any topic")
		}
		subs = append(subs, subsForAnyTopic...)
	}
	return subs
}

func (ws *service) doRequest(topic string, sub Subscription, payload string) error {
	_, err := ws.cb.Execute(func() (interface{}, error) {
		req, err := http.NewRequest(
			http.MethodPost, sub.Endpoint, strings.NewReader(payload),
		)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")

		if sub.IsSecured() {
			token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
				"topic": topic,
				"iat":   time.Now().Unix(),
			})
			tokenString, err := token.SignedString([]byte(sub.Secret))
			if err != nil {
				return nil, err
			}
			req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", tokenString))
		}

		resp, err := ws.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			body, _ := io.ReadAll(resp.Body)
			return nil, fmt.Errorf(
				"webhook %s responded with status %d: %s",
				sub.ID, resp.StatusCode, strings.TrimSpace(string(body)),
			)
		}
		return nil, nil
	})

	return err
}
