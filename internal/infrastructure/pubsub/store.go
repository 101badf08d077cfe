package pubsub

import (
	"errors"
	"sort"

	"github.com/escrowchat/tradecoord/internal/core/ports"
	"github.com/timshannon/badgerhold/v4"
)

type store struct {
	db *badgerhold.Store
}

func (s store) add(sub *Subscription) error {
	if err := s.db.Insert(sub.ID, sub); err != nil {
		// Ids are random enough that a duplicate is the same subscription.
		if errors.Is(err, badgerhold.ErrKeyExists) {
			return nil
		}
		return err
	}
	return nil
}

func (s store) remove(id string) error {
	if err := s.db.Delete(id, Subscription{}); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return ports.ErrSubscriptionNotFound
		}
		return err
	}
	return nil
}

// forTopic returns the subscriptions of the topic sorted by id. An
// unspecified topic returns all of them.
func (s store) forTopic(topic string) (subscriptions, error) {
	var query *badgerhold.Query
	if topic != ports.UnspecifiedTopic {
		query = badgerhold.Where("Event").Eq(topic).Index("Event")
	}

	var subs subscriptions
	if err := s.db.Find(&subs, query); err != nil {
		return nil, err
	}
	sort.SliceStable(subs, func(i, j int) bool {
		return subs[i].ID < subs[j].ID
	})
	return subs, nil
}

func (s store) close() error {
	return s.db.Close()
}
