package billing

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// maxBodySize bounds webhook request bodies.
const maxBodySize = 1 << 20

// event is the provider's webhook envelope; Data.Object carries the typed
// resource the event describes.
type event struct {
	Type string `json:"type"`
	Data struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

type catalogObject struct {
	ID string `json:"id"`
}

type subscriptionObject struct {
	ID       string `json:"id"`
	Customer string `json:"customer"`
	Status   string `json:"status"`
}

type checkoutSessionObject struct {
	Mode         string `json:"mode"`
	Subscription string `json:"subscription"`
	Customer     string `json:"customer"`
}

// Handler is the inbound signed-event boundary of the billing collaborator:
// it verifies each event's signature against the shared secret and syncs
// catalog and subscription records through the Store. It is a CRUD state-
// sync surface with no coupling to the relay core.
type Handler struct {
	secret []byte
	store  Store
	now    func() time.Time
}

// NewHandler builds a webhook handler for the given shared secret and store.
func NewHandler(secret string, store Store) *Handler {
	return &Handler{
		secret: []byte(secret),
		store:  store,
		now:    time.Now,
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		http.Error(w, "unreadable body", http.StatusBadRequest)
		return
	}

	if err := verifySignature(r.Header.Get(SignatureHeader), body, h.secret, h.now()); err != nil {
		slog.Warn("webhook signature rejected", "error", err)
		http.Error(w, "invalid signature", http.StatusBadRequest)
		return
	}

	var ev event
	if err := json.Unmarshal(body, &ev); err != nil {
		http.Error(w, "malformed event", http.StatusBadRequest)
		return
	}

	if err := h.process(r.Context(), ev); err != nil {
		slog.Warn("webhook event rejected", "type", ev.Type, "error", err)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]bool{"received": true})
}

func (h *Handler) process(ctx context.Context, ev event) error {
	switch {
	case strings.HasPrefix(ev.Type, "product.") || strings.HasPrefix(ev.Type, "price."):
		return h.upsertCatalog(ctx, ev)
	case strings.HasPrefix(ev.Type, "customer.subscription."):
		return h.syncSubscription(ctx, ev)
	case ev.Type == "checkout.session.completed":
		return h.completeCheckout(ctx, ev)
	default:
		return fmt.Errorf("unhandled event type %q", ev.Type)
	}
}

func (h *Handler) upsertCatalog(ctx context.Context, ev event) error {
	var obj catalogObject
	if err := json.Unmarshal(ev.Data.Object, &obj); err != nil {
		return fmt.Errorf("decode %s object: %w", ev.Type, err)
	}
	if obj.ID == "" {
		return fmt.Errorf("%s: missing object id", ev.Type)
	}

	kind, _, _ := strings.Cut(ev.Type, ".")
	err := h.store.UpsertCatalogRecord(ctx, CatalogRecord{
		ProviderID: obj.ID,
		Kind:       kind,
		Payload:    ev.Data.Object,
	})
	if err != nil {
		return fmt.Errorf("upsert catalog record: %w", err)
	}
	slog.Info("catalog record synced", "kind", kind, "id", obj.ID)
	return nil
}

func (h *Handler) syncSubscription(ctx context.Context, ev event) error {
	var obj subscriptionObject
	if err := json.Unmarshal(ev.Data.Object, &obj); err != nil {
		return fmt.Errorf("decode subscription object: %w", err)
	}
	if obj.ID == "" {
		return fmt.Errorf("%s: missing subscription id", ev.Type)
	}

	created, err := h.store.UpsertSubscription(ctx, SubscriptionStatus{
		SubscriptionID: obj.ID,
		CustomerID:     obj.Customer,
		Status:         obj.Status,
	})
	if err != nil {
		return fmt.Errorf("upsert subscription: %w", err)
	}
	slog.Info("subscription synced", "id", obj.ID, "status", obj.Status, "created", created)
	return nil
}

// completeCheckout records the subscription a completed checkout session
// started. Sessions in other modes (one-time payments) carry no
// subscription and are acknowledged without effect.
func (h *Handler) completeCheckout(ctx context.Context, ev event) error {
	var obj checkoutSessionObject
	if err := json.Unmarshal(ev.Data.Object, &obj); err != nil {
		return fmt.Errorf("decode checkout session: %w", err)
	}
	if obj.Mode != "subscription" {
		return nil
	}
	if obj.Subscription == "" {
		return fmt.Errorf("checkout.session.completed: missing subscription id")
	}

	created, err := h.store.UpsertSubscription(ctx, SubscriptionStatus{
		SubscriptionID: obj.Subscription,
		CustomerID:     obj.Customer,
		Status:         "active",
	})
	if err != nil {
		return fmt.Errorf("upsert subscription: %w", err)
	}
	slog.Info("checkout subscription synced", "id", obj.Subscription, "created", created)
	return nil
}
