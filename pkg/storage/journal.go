package storage

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/cockroachdb/pebble"

	"github.com/quantegy/ordergate/pkg/core"
)

// Journal is a local pebble-backed audit trail of committed orders.
// Writes happen after the store transaction commits and are best-effort:
// a journal failure never fails the order.
type Journal struct {
	db *pebble.DB
}

func OpenJournal(path string) (*Journal, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	return &Journal{db: db}, nil
}

func (j *Journal) Close() error { return j.db.Close() }

// keys: o:<8-byte big-endian order id>, iterating in id order
func orderKey(id int32) []byte {
	key := make([]byte, 2, 10)
	copy(key, "o:")
	return binary.BigEndian.AppendUint64(key, uint64(id))
}

func (j *Journal) Append(o core.Order) error {
	val, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("encode order %d: %w", o.OrderID, err)
	}
	if err := j.db.Set(orderKey(o.OrderID), val, pebble.Sync); err != nil {
		return fmt.Errorf("journal order %d: %w", o.OrderID, err)
	}
	return nil
}

// Recent returns up to n journaled orders, newest first.
func (j *Journal) Recent(n int) ([]core.Order, error) {
	lower := []byte("o:")
	iter, err := j.db.NewIter(&pebble.IterOptions{
		LowerBound: lower,
		UpperBound: []byte("o;"),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	orders := []core.Order{}
	for ok := iter.Last(); ok && len(orders) < n; ok = iter.Prev() {
		var o core.Order
		if err := json.Unmarshal(iter.Value(), &o); err != nil {
			continue // skip torn entries
		}
		orders = append(orders, o)
	}
	return orders, nil
}
