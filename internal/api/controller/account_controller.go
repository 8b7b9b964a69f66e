package controller

import (
	"context"
	"errors"
	"net/http"

	"github.com/bassista/go_lanatus/internal/account"
	"github.com/bassista/go_lanatus/internal/logger"
	"github.com/bassista/go_lanatus/internal/repository"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// AccountService is the part of account.Repository used by the HTTP layer.
type AccountService interface {
	Find(ctx context.Context, playerID uuid.UUID) (account.Snapshot, bool, error)
	FindOrDefault(ctx context.Context, playerID uuid.UUID) (account.Snapshot, error)
	RefreshByID(ctx context.Context, playerID uuid.UUID) (account.Snapshot, error)
	FindMutable(ctx context.Context, playerID uuid.UUID) (*account.Mutable, error)
	Save(ctx context.Context, m *account.Mutable) (account.Snapshot, error)
}

// AccountResponse is the JSON form of an account snapshot.
type AccountResponse struct {
	ID       string `json:"id"`
	Melons   int64  `json:"melons"`
	LastRank string `json:"lastRank"`
	Version  int64  `json:"version"`
	Exists   bool   `json:"exists"`
}

// UpdateAccountRequest is the body of PATCH /accounts/:id. When ExpectedVersion
// is set the update is rejected unless the stored account is still at that version.
type UpdateAccountRequest struct {
	MelonsDelta     int64   `json:"melonsDelta"`
	LastRank        *string `json:"lastRank"`
	ExpectedVersion *int64  `json:"expectedVersion"`
}

// AccountController handles account-related HTTP endpoints.
type AccountController struct {
	accounts AccountService
}

func NewAccountController(accounts AccountService) *AccountController {
	return &AccountController{accounts: accounts}
}

func toResponse(snap account.Snapshot) AccountResponse {
	acc := snap.Value()
	return AccountResponse{
		ID:       snap.Key().String(),
		Melons:   acc.Melons,
		LastRank: acc.LastRank,
		Version:  int64(snap.Version()),
		Exists:   snap.Exists(),
	}
}

func parsePlayerID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		logger.WithComponent("account-controller").Debugf("invalid player id %q: %v", c.Param("id"), err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid player id"})
		return uuid.Nil, false
	}
	return id, true
}

// GetAccount handles GET /accounts/:id - returns the stored account or 404.
func (ac *AccountController) GetAccount(c *gin.Context) {
	id, ok := parsePlayerID(c)
	if !ok {
		return
	}

	snap, found, err := ac.accounts.Find(c.Request.Context(), id)
	if err != nil {
		respondError(c, "account-controller", err)
		return
	}
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "account not found"})
		return
	}
	c.JSON(http.StatusOK, toResponse(snap))
}

// GetEffectiveAccount handles GET /accounts/:id/effective - returns the stored
// account, or the defaults if the player has none.
func (ac *AccountController) GetEffectiveAccount(c *gin.Context) {
	id, ok := parsePlayerID(c)
	if !ok {
		return
	}

	snap, err := ac.accounts.FindOrDefault(c.Request.Context(), id)
	if err != nil {
		respondError(c, "account-controller", err)
		return
	}
	c.JSON(http.StatusOK, toResponse(snap))
}

// RefreshAccount handles POST /accounts/:id/refresh - re-reads the account from
// the store and updates the cache.
func (ac *AccountController) RefreshAccount(c *gin.Context) {
	id, ok := parsePlayerID(c)
	if !ok {
		return
	}

	fresh, err := ac.accounts.RefreshByID(c.Request.Context(), id)
	if err != nil {
		respondError(c, "account-controller", err)
		return
	}
	logger.WithKey("account-controller", id).Debugf("refreshed: version %d", fresh.Version())
	c.JSON(http.StatusOK, toResponse(fresh))
}

// UpdateAccount handles PATCH /accounts/:id. The change is applied to a fresh
// copy and saved once; a concurrent modification yields 409 and the client decides
// whether to retry.
func (ac *AccountController) UpdateAccount(c *gin.Context) {
	id, ok := parsePlayerID(c)
	if !ok {
		return
	}

	var req UpdateAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	ctx := c.Request.Context()

	m, err := ac.accounts.FindMutable(ctx, id)
	if err != nil {
		respondError(c, "account-controller", err)
		return
	}

	if req.ExpectedVersion != nil && repository.Version(*req.ExpectedVersion) != m.BaseVersion() {
		logger.WithKey("account-controller", id).Debugf("expected version %d, stored %d", *req.ExpectedVersion, m.BaseVersion())
		c.JSON(http.StatusConflict, gin.H{
			"error":          "account was modified concurrently",
			"currentVersion": int64(m.BaseVersion()),
		})
		return
	}

	if req.MelonsDelta != 0 {
		if err := account.ModifyMelons(m, req.MelonsDelta); err != nil {
			respondError(c, "account-controller", err)
			return
		}
	}
	if req.LastRank != nil {
		account.SetLastRank(m, *req.LastRank)
	}

	snap, err := ac.accounts.Save(ctx, m)
	if err != nil {
		respondError(c, "account-controller", err)
		return
	}
	logger.WithKey("account-controller", id).Debugf("saved at version %d", snap.Version())
	c.JSON(http.StatusOK, toResponse(snap))
}

// respondError maps repository and account errors to HTTP statuses.
func respondError(c *gin.Context, component string, err error) {
	_ = c.Error(err)
	log := logger.WithComponent(component)

	switch {
	case account.IsValidationError(err):
		log.Debugf("%s %s: rejected: %v", c.Request.Method, c.Request.URL.Path, err)
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	case repository.IsConflict(err):
		log.Debugf("%s %s: conflict: %v", c.Request.Method, c.Request.URL.Path, err)
		c.JSON(http.StatusConflict, gin.H{"error": "account was modified concurrently"})
	case repository.IsInvalidState(err):
		log.Errorf("%s %s: %v", c.Request.Method, c.Request.URL.Path, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	case errors.Is(err, context.DeadlineExceeded):
		log.Warnf("%s %s: %v", c.Request.Method, c.Request.URL.Path, err)
		c.JSON(http.StatusGatewayTimeout, gin.H{"error": "request timeout"})
	case repository.IsDataAccess(err):
		log.Errorf("%s %s: store error: %v", c.Request.Method, c.Request.URL.Path, err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "account store unavailable"})
	default:
		log.Errorf("%s %s: %v", c.Request.Method, c.Request.URL.Path, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
