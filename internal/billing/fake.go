package billing

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// Fake is an in-memory Provider. Webhook payloads are plain JSON Events and
// the signature must equal Secret.
type Fake struct {
	Secret string

	mu        sync.Mutex
	Checkouts []CheckoutRequest
}

func (f *Fake) CheckoutURL(_ context.Context, req CheckoutRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Checkouts = append(f.Checkouts, req)
	return fmt.Sprintf("https://pay.example.com/checkout/%s", req.UserID), nil
}

func (f *Fake) PortalURL(_ context.Context, customerID, _ string) (string, error) {
	return "https://pay.example.com/portal/" + customerID, nil
}

func (f *Fake) ParseEvent(payload []byte, signature string) (Event, error) {
	if signature != f.Secret {
		return Event{}, ErrBadSignature
	}
	var ev Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	return ev, nil
}
