package billingtest

import (
	"sync"

	"github.com/mihaimyh/billingsync/pkg/billing"
)

// Notifier records cancellation notices and returns Err from each
type Notifier struct {
	mu      sync.Mutex
	Err     error
	Notices []Notice
}

// Notice is one recorded cancellation notice
type Notice struct {
	UserID    string
	Status    billing.Status
	Immediate bool
}

func (n *Notifier) SubscriptionCanceled(userID string, sub *billing.Subscription, immediate bool) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Notices = append(n.Notices, Notice{UserID: userID, Status: sub.Status, Immediate: immediate})
	return n.Err
}

var _ billing.Notifier = (*Notifier)(nil)
