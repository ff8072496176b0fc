package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/susu3304/tipbot/internal/amount"
	"github.com/susu3304/tipbot/internal/ledger"
	"github.com/susu3304/tipbot/internal/notify"
	"github.com/susu3304/tipbot/internal/reactdrop"
)

const (
	defaultEntries   = 20
	maxEntries       = 100
	reactdropsListed = 25
)

type amountView struct {
	Sats  int64  `json:"sats"`
	Coins string `json:"coins"`
}

func viewOf(a amount.Amount) amountView {
	return amountView{Sats: a.Sats(), Coins: a.String()}
}

type balanceResponse struct {
	UserID    string     `json:"user_id"`
	Ticker    string     `json:"ticker"`
	Balance   amountView `json:"balance"`
	Committed amountView `json:"committed"`
	Available amountView `json:"available"`
}

type notificationsBody struct {
	Setting notify.Preference `json:"setting"`
	Label   string            `json:"label,omitempty"`
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	if p, ok := a.store.(interface{ Ping(context.Context) error }); ok {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := p.Ping(ctx); err != nil {
			a.logger.Warn("health check failed", zap.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Protected handlers
func (a *API) handleBalance(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r.Context())

	balance, committed, err := a.store.Available(r.Context(), claims.UserID)
	if err != nil {
		a.internalError(w, "load balance", err)
		return
	}

	writeJSON(w, http.StatusOK, balanceResponse{
		UserID:    claims.UserID,
		Ticker:    a.config.Ticker,
		Balance:   viewOf(balance),
		Committed: viewOf(committed),
		Available: viewOf(balance - committed),
	})
}

func (a *API) handleEntries(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r.Context())

	limit := defaultEntries
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxEntries {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 100")
			return
		}
		limit = n
	}

	entries, err := a.store.Entries(r.Context(), claims.UserID, limit)
	if err != nil {
		a.internalError(w, "load entries", err)
		return
	}
	if entries == nil {
		entries = []ledger.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (a *API) handleGetNotifications(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r.Context())

	p, err := a.store.NotificationPreference(r.Context(), claims.UserID)
	if err != nil {
		a.internalError(w, "load notification preference", err)
		return
	}
	writeJSON(w, http.StatusOK, notificationsBody{Setting: p, Label: p.Label()})
}

func (a *API) handlePutNotifications(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r.Context())

	var body struct {
		Setting string `json:"setting"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<10)).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	p, err := notify.ParsePreference(body.Setting)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := a.store.SetNotificationPreference(r.Context(), claims.UserID, p); err != nil {
		a.internalError(w, "save notification preference", err)
		return
	}
	writeJSON(w, http.StatusOK, notificationsBody{Setting: p, Label: p.Label()})
}

func (a *API) handleReactdrops(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r.Context())

	drops, err := a.store.ReactdropsByInitiator(r.Context(), claims.UserID, reactdropsListed)
	if err != nil {
		a.internalError(w, "load reactdrops", err)
		return
	}
	if drops == nil {
		drops = []*reactdrop.Reactdrop{}
	}
	writeJSON(w, http.StatusOK, drops)
}

func (a *API) internalError(w http.ResponseWriter, what string, err error) {
	if errors.Is(err, context.Canceled) {
		return
	}
	a.logger.Error(what, zap.Error(err))
	writeError(w, http.StatusInternalServerError, "internal error")
}
