package session

import (
	"context"

	"github.com/google/uuid"
)

// Observer is notified of state changes. Calls are made without the
// session lock held, in the order the changes happened.
type Observer interface {
	ConnectionChanged(connected bool, err error)
	BatchAnnounced(totalFiles int)
	ItemChanged(role Role, item TransferItem)
	ItemRemoved(role Role, id uuid.UUID)
}

// NopObserver ignores every event. Embed it to implement part of Observer.
type NopObserver struct{}

func (NopObserver) ConnectionChanged(bool, error)  {}
func (NopObserver) BatchAnnounced(int)             {}
func (NopObserver) ItemChanged(Role, TransferItem) {}
func (NopObserver) ItemRemoved(Role, uuid.UUID)    {}

type multiObserver []Observer

// Observers fans events out to every observer in order.
func Observers(observers ...Observer) Observer {
	return multiObserver(observers)
}

func (m multiObserver) ConnectionChanged(connected bool, err error) {
	for _, o := range m {
		o.ConnectionChanged(connected, err)
	}
}

func (m multiObserver) BatchAnnounced(totalFiles int) {
	for _, o := range m {
		o.BatchAnnounced(totalFiles)
	}
}

func (m multiObserver) ItemChanged(role Role, item TransferItem) {
	for _, o := range m {
		o.ItemChanged(role, item)
	}
}

func (m multiObserver) ItemRemoved(role Role, id uuid.UUID) {
	for _, o := range m {
		o.ItemRemoved(role, id)
	}
}

// Deliverer hands a received file to the consumer, e.g. by saving it.
type Deliverer interface {
	Deliver(ctx context.Context, item TransferItem) error
}

type DelivererFunc func(ctx context.Context, item TransferItem) error

func (f DelivererFunc) Deliver(ctx context.Context, item TransferItem) error {
	return f(ctx, item)
}

var discard = DelivererFunc(func(context.Context, TransferItem) error { return nil })
