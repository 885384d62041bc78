package bus

import "errors"

// ErrUnsubscribed is returned by Receive once a Subscription has been
// unsubscribed; events still queued at that point are discarded.
var ErrUnsubscribed = errors.New("bus: subscription closed")
