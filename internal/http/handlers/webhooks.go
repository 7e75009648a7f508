package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"

	"server/internal/domain"
)

// Stripe events are small; anything larger is not a webhook.
const webhookMaxBody = 65536

// StripeWebhook credits purchased packs. Crediting is keyed on the Stripe
// event id, so redeliveries are acknowledged without touching the balance.
func (a *App) StripeWebhook(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, webhookMaxBody)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		a.error(w, http.StatusRequestEntityTooLarge, "body_too_large", "request body too large")
		return
	}

	event, err := webhook.ConstructEvent(body, r.Header.Get("Stripe-Signature"), a.Config.StripeWebhookSecret)
	if err != nil {
		a.Logger.Warn().Err(err).Msg("webhook signature verification failed")
		a.error(w, http.StatusBadRequest, "invalid_signature", "signature verification failed")
		return
	}

	if event.Type != "checkout.session.completed" {
		a.Logger.Debug().Str("event_type", string(event.Type)).Msg("ignoring stripe event")
		a.json(w, http.StatusOK, map[string]any{"ignored": true})
		return
	}

	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "malformed checkout session payload")
		return
	}
	accountID := session.Metadata["account_id"]
	credits, convErr := strconv.Atoi(session.Metadata["credits"])
	if accountID == "" || convErr != nil || credits <= 0 {
		a.Logger.Error().
			Str("event_id", event.ID).
			Str("account_id", accountID).
			Str("credits", session.Metadata["credits"]).
			Msg("checkout session missing purchase metadata")
		// Acknowledge: redelivery cannot fix a malformed session.
		a.json(w, http.StatusOK, map[string]any{"ignored": true})
		return
	}

	result, err := a.Ledger.ApplyPurchase(r.Context(), domain.PurchaseEvent{
		EventID:   event.ID,
		AccountID: accountID,
		Credits:   credits,
	})
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			a.Logger.Error().Str("event_id", event.ID).Str("account_id", accountID).Msg("purchase for unknown account")
			a.json(w, http.StatusOK, map[string]any{"ignored": true})
			return
		}
		// 5xx makes Stripe redeliver; the event-id guard makes that safe.
		a.domainError(w, r, err)
		return
	}

	a.Logger.Info().
		Str("event_id", event.ID).
		Str("account_id", accountID).
		Int("credits", credits).
		Bool("duplicate", result.Duplicate).
		Msg("purchase webhook processed")
	a.json(w, http.StatusOK, map[string]any{
		"applied":   result.Applied,
		"duplicate": result.Duplicate,
	})
}
