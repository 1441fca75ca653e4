package memory

import (
	"github.com/yndnr/deltamesh-go/internal/core/domain"
	"github.com/yndnr/deltamesh-go/pkg/cmap"
)

// ClientIndex maps a client to the objects it is subscribed to.
//
// Sets are only touched inside the client's shard lock, so an empty set is
// removed atomically with its last member.
type ClientIndex struct {
	index *cmap.Map[domain.ClientID, map[domain.ObjectID]struct{}]
}

// NewClientIndex creates an empty index.
func NewClientIndex() *ClientIndex {
	return &ClientIndex{
		index: cmap.New[domain.ClientID, map[domain.ObjectID]struct{}](),
	}
}

// Add records that clientID subscribes to objectID.
func (i *ClientIndex) Add(clientID domain.ClientID, objectID domain.ObjectID) {
	i.index.Compute(clientID, func(set map[domain.ObjectID]struct{}, loaded bool) (map[domain.ObjectID]struct{}, cmap.Op) {
		if !loaded {
			set = make(map[domain.ObjectID]struct{})
		}
		set[objectID] = struct{}{}
		return set, cmap.Store
	})
}

// Remove drops one subscription. The client entry goes away with its last one.
func (i *ClientIndex) Remove(clientID domain.ClientID, objectID domain.ObjectID) {
	i.index.Compute(clientID, func(set map[domain.ObjectID]struct{}, loaded bool) (map[domain.ObjectID]struct{}, cmap.Op) {
		if !loaded {
			return set, cmap.Keep
		}
		delete(set, objectID)
		if len(set) == 0 {
			return nil, cmap.Remove
		}
		return set, cmap.Keep
	})
}

// Get returns the objects clientID is subscribed to.
func (i *ClientIndex) Get(clientID domain.ClientID) []domain.ObjectID {
	var ids []domain.ObjectID
	i.index.Compute(clientID, func(set map[domain.ObjectID]struct{}, loaded bool) (map[domain.ObjectID]struct{}, cmap.Op) {
		if loaded {
			ids = make([]domain.ObjectID, 0, len(set))
			for id := range set {
				ids = append(ids, id)
			}
		}
		return set, cmap.Keep
	})
	return ids
}

// Count returns the number of subscriptions held by clientID.
func (i *ClientIndex) Count(clientID domain.ClientID) int {
	n := 0
	i.index.Compute(clientID, func(set map[domain.ObjectID]struct{}, loaded bool) (map[domain.ObjectID]struct{}, cmap.Op) {
		n = len(set)
		return set, cmap.Keep
	})
	return n
}

// Clients returns the number of clients with at least one subscription.
func (i *ClientIndex) Clients() int {
	return i.index.Count()
}
