package handlers

import (
	"context"
	stderrors "errors"
	"net/http"

	"github.com/cloudcareercoach/api/pkg/api/errors"
	"github.com/cloudcareercoach/api/pkg/billing"
	"github.com/cloudcareercoach/api/pkg/confirm"
	"github.com/cloudcareercoach/api/pkg/domain"
	"github.com/cloudcareercoach/api/pkg/entitlement"
	"github.com/cloudcareercoach/api/pkg/intent"
	"github.com/cloudcareercoach/api/pkg/logger"
	"github.com/cloudcareercoach/api/pkg/models"
	"github.com/cloudcareercoach/api/pkg/session"
	"github.com/getsentry/sentry-go"
	sentryecho "github.com/getsentry/sentry-go/echo"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
)

// CacheRecorder counts pending intent lookups. *metrics.Metrics implements it.
type CacheRecorder interface {
	RecordCacheHit(cacheType string)
	RecordCacheMiss(cacheType string)
}

type nopCacheRecorder struct{}

func (nopCacheRecorder) RecordCacheHit(string)  {}
func (nopCacheRecorder) RecordCacheMiss(string) {}

// PaymentsConfig holds the poll budgets of the two confirmation surfaces
type PaymentsConfig struct {
	BannerBudget int
	PageBudget   int
	OfferURL     string
}

// PaymentsHandler serves checkout, status and confirmation endpoints
type PaymentsHandler struct {
	initiator    *billing.Initiator
	status       *billing.StatusService
	entitlements *entitlement.Store
	intents      intent.Cache
	surfaceDeps  confirm.Dependencies
	config       PaymentsConfig
	cache        CacheRecorder
	logger       logger.Logger
	validator    *validator.Validate
}

// NewPaymentsHandler creates a new payments handler. Every surface it opens
// shares surfaceDeps, in particular the poller.
func NewPaymentsHandler(
	initiator *billing.Initiator,
	status *billing.StatusService,
	entitlements *entitlement.Store,
	intents intent.Cache,
	surfaceDeps confirm.Dependencies,
	cfg PaymentsConfig,
	log logger.Logger,
) *PaymentsHandler {
	if log == nil {
		log = logger.Default()
	}
	if surfaceDeps.Logger == nil {
		surfaceDeps.Logger = log
	}
	return &PaymentsHandler{
		initiator:    initiator,
		status:       status,
		entitlements: entitlements,
		intents:      intents,
		surfaceDeps:  surfaceDeps,
		config:       cfg,
		cache:        nopCacheRecorder{},
		logger:       log,
		validator:    validator.New(),
	}
}

// SetCacheRecorder sets the pending intent telemetry sink
func (h *PaymentsHandler) SetCacheRecorder(r CacheRecorder) {
	if r == nil {
		r = nopCacheRecorder{}
	}
	h.cache = r
}

// Register mounts the payment routes on an authenticated group. statusMW
// wraps only the status endpoint, which clients poll.
func (h *PaymentsHandler) Register(api *echo.Group, statusMW ...echo.MiddlewareFunc) {
	payments := api.Group("/payments")
	payments.POST("/checkout", h.CreateCheckout)
	payments.GET("/status/:session_id", h.GetStatus, statusMW...)
	payments.GET("/confirm", h.ConfirmPage)
	payments.GET("/banner", h.Banner)
	payments.GET("/pending", h.GetPending)
	payments.DELETE("/pending", h.DismissPending)
	payments.POST("/retry", h.RetryCheckout)
	payments.GET("/packages", h.ListPackages)

	api.GET("/me/entitlement", h.GetEntitlement)
}

// viewer reads the identity set by the JWT and session middlewares
func viewer(c echo.Context) (confirm.Viewer, bool) {
	userID, ok := c.Get("user_id").(int)
	if !ok || userID <= 0 {
		return confirm.Viewer{}, false
	}
	email, _ := c.Get("user_email").(string)
	return confirm.Viewer{
		UserID:         userID,
		Email:          email,
		BrowserSession: session.FromContext(c),
	}, true
}

// CreateCheckout starts a checkout for a premium package
// @Summary Create checkout session
// @Description Creates a hosted checkout session and records the pending intent before returning the redirect URL
// @Tags Payments
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body models.CheckoutRequest true "Package to purchase"
// @Success 200 {object} models.CheckoutResponse
// @Failure 400 {object} models.ErrorResponse "Invalid request or package"
// @Failure 401 {object} models.ErrorResponse "Unauthorized"
// @Failure 500 {object} models.ErrorResponse "Internal server error"
// @Router /payments/checkout [post]
func (h *PaymentsHandler) CreateCheckout(c echo.Context) error {
	v, ok := viewer(c)
	if !ok {
		return errors.UnauthorizedError(c)
	}

	var req models.CheckoutRequest
	if err := c.Bind(&req); err != nil {
		return errors.ValidationError(c, err)
	}
	if err := h.validator.Struct(req); err != nil {
		return errors.ValidationError(c, err)
	}

	ctx := c.Request().Context()
	name, _ := c.Get("user_name").(string)
	err := h.entitlements.EnsureUser(ctx, entitlement.User{ID: v.UserID, Email: v.Email, FullName: name})
	if err != nil {
		return errors.DatabaseError(c, err)
	}

	res, err := h.initiator.Initiate(ctx, billing.InitiateRequest{
		UserID:         v.UserID,
		UserEmail:      v.Email,
		BrowserSession: v.BrowserSession,
		PackageID:      req.PackageID,
		Origin:         c.Request().Header.Get(echo.HeaderOrigin),
	})
	if err != nil {
		return errors.FromDomain(c, err)
	}

	return c.JSON(http.StatusOK, checkoutResponse(res))
}

// GetStatus reports the processor status of one of the caller's sessions
// @Summary Get payment status
// @Description Queries the payment processor for a checkout session started by the caller and persists status changes
// @Tags Payments
// @Produce json
// @Security BearerAuth
// @Param session_id path string true "Checkout session id"
// @Success 200 {object} models.PaymentStatusResponse
// @Failure 401 {object} models.ErrorResponse "Unauthorized"
// @Failure 404 {object} models.ErrorResponse "Unknown session"
// @Failure 429 {object} models.ErrorResponse "Rate limited"
// @Router /payments/status/{session_id} [get]
func (h *PaymentsHandler) GetStatus(c echo.Context) error {
	v, ok := viewer(c)
	if !ok {
		return errors.UnauthorizedError(c)
	}

	sessionID := c.Param("session_id")
	raw, err := h.status.Check(c.Request().Context(), v.UserID, sessionID)
	if err != nil {
		return errors.FromDomain(c, err)
	}

	class := billing.Classify(raw)
	return c.JSON(http.StatusOK, models.PaymentStatusResponse{
		SessionID:     sessionID,
		Status:        raw.Status,
		PaymentStatus: raw.PaymentStatus,
		AmountTotal:   raw.AmountTotal,
		Currency:      raw.Currency,
		Outcome:       class.String(),
		Terminal:      class != billing.ClassPending,
	})
}

// ConfirmPage runs the dedicated confirmation page
// @Summary Confirm payment (dedicated page)
// @Description Polls the checkout session until a terminal outcome and applies the entitlement on success. Redirects to the offer page when no session id is given.
// @Tags Payments
// @Produce json
// @Security BearerAuth
// @Param session_id query string false "Checkout session id from the processor redirect"
// @Success 200 {object} confirm.View
// @Success 303 "Redirect to the offer page"
// @Failure 404 {object} models.ErrorResponse "Unknown session"
// @Router /payments/confirm [get]
func (h *PaymentsHandler) ConfirmPage(c echo.Context) error {
	v, ok := viewer(c)
	if !ok {
		return errors.UnauthorizedError(c)
	}

	surface := confirm.NewDedicatedPage(v, h.surfaceDeps, h.config.PageBudget, h.config.OfferURL)
	view, err := surface.Open(c.Request().Context(), c.QueryParam("session_id"))
	if err != nil {
		return h.openError(c, err)
	}
	if view.RedirectURL != "" {
		return c.Redirect(http.StatusSeeOther, view.RedirectURL)
	}

	h.report(c, view)
	return c.JSON(http.StatusOK, view)
}

// Banner runs the inline banner on the offer page
// @Summary Confirm payment (inline banner)
// @Description Same as the confirmation page with a smaller poll budget. Without a session id the banner stays hidden.
// @Tags Payments
// @Produce json
// @Security BearerAuth
// @Param session_id query string false "Checkout session id"
// @Success 200 {object} confirm.View
// @Router /payments/banner [get]
func (h *PaymentsHandler) Banner(c echo.Context) error {
	v, ok := viewer(c)
	if !ok {
		return errors.UnauthorizedError(c)
	}

	surface := confirm.NewInlineBanner(v, h.surfaceDeps, h.config.BannerBudget)
	view, err := surface.Open(c.Request().Context(), c.QueryParam("session_id"))
	if err != nil {
		return h.openError(c, err)
	}

	h.report(c, view)
	return c.JSON(http.StatusOK, view)
}

// GetPending returns the checkout in flight for this browser session
// @Summary Get pending checkout
// @Tags Payments
// @Produce json
// @Security BearerAuth
// @Success 200 {object} models.PendingIntentResponse
// @Failure 404 {object} models.ErrorResponse "No checkout in flight"
// @Router /payments/pending [get]
func (h *PaymentsHandler) GetPending(c echo.Context) error {
	v, ok := viewer(c)
	if !ok {
		return errors.UnauthorizedError(c)
	}
	if v.BrowserSession == "" {
		h.cache.RecordCacheMiss(intent.SlotName)
		return errors.NotFoundError(c)
	}

	in, found, err := h.intents.Get(c.Request().Context(), v.BrowserSession)
	if err != nil {
		return errors.InternalError(c, err)
	}
	if !found {
		h.cache.RecordCacheMiss(intent.SlotName)
		return errors.NotFoundError(c)
	}
	h.cache.RecordCacheHit(intent.SlotName)

	return c.JSON(http.StatusOK, models.PendingIntentResponse{
		SessionID:     in.SessionID,
		PackageID:     in.PackageID,
		DisplayAmount: in.DisplayAmount,
		InitiatedAt:   in.InitiatedAt,
	})
}

// DismissPending forgets the checkout in flight for this browser session
// @Summary Dismiss pending checkout
// @Tags Payments
// @Produce json
// @Security BearerAuth
// @Success 200 {object} models.SuccessResponse
// @Router /payments/pending [delete]
func (h *PaymentsHandler) DismissPending(c echo.Context) error {
	v, ok := viewer(c)
	if !ok {
		return errors.UnauthorizedError(c)
	}

	surface := confirm.NewInlineBanner(v, h.surfaceDeps, h.config.BannerBudget)
	if _, err := surface.Dismiss(c.Request().Context()); err != nil {
		return errors.InternalError(c, err)
	}
	return c.JSON(http.StatusOK, models.SuccessResponse{Message: "Pending checkout dismissed"})
}

// RetryCheckout restarts checkout after a failed or expired payment
// @Summary Restart checkout
// @Description Starts a new checkout for the given package, or for the package of the pending checkout
// @Tags Payments
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body models.RetryRequest false "Package to purchase"
// @Success 200 {object} models.CheckoutResponse
// @Failure 400 {object} models.ErrorResponse "Invalid request or package"
// @Router /payments/retry [post]
func (h *PaymentsHandler) RetryCheckout(c echo.Context) error {
	v, ok := viewer(c)
	if !ok {
		return errors.UnauthorizedError(c)
	}

	var req models.RetryRequest
	if err := c.Bind(&req); err != nil {
		return errors.ValidationError(c, err)
	}
	if err := h.validator.Struct(req); err != nil {
		return errors.ValidationError(c, err)
	}

	surface := confirm.NewDedicatedPage(v, h.surfaceDeps, h.config.PageBudget, h.config.OfferURL)
	res, err := surface.Retry(c.Request().Context(), c.Request().Header.Get(echo.HeaderOrigin), req.PackageID)
	if err != nil {
		return errors.FromDomain(c, err)
	}
	return c.JSON(http.StatusOK, checkoutResponse(res))
}

// ListPackages returns the purchasable packages
// @Summary List premium packages
// @Tags Payments
// @Produce json
// @Success 200 {object} models.PackagesResponse
// @Router /payments/packages [get]
func (h *PaymentsHandler) ListPackages(c echo.Context) error {
	pkgs := billing.Packages()
	resp := models.PackagesResponse{Packages: make([]models.PackageInfo, 0, len(pkgs))}
	for _, p := range pkgs {
		resp.Packages = append(resp.Packages, models.PackageInfo{
			ID:            p.ID,
			Name:          p.Name,
			Amount:        p.Amount,
			Currency:      p.Currency,
			DisplayAmount: p.DisplayAmount(),
			Description:   p.Description,
		})
	}
	return c.JSON(http.StatusOK, resp)
}

// GetEntitlement returns the caller's premium state
// @Summary Get premium entitlement
// @Tags Payments
// @Produce json
// @Security BearerAuth
// @Success 200 {object} models.EntitlementResponse
// @Router /me/entitlement [get]
func (h *PaymentsHandler) GetEntitlement(c echo.Context) error {
	v, ok := viewer(c)
	if !ok {
		return errors.UnauthorizedError(c)
	}

	ent, err := h.entitlements.Get(c.Request().Context(), v.UserID)
	if err != nil {
		// Users without a checkout have no row yet
		if domain.IsNotFound(err) {
			return c.JSON(http.StatusOK, models.EntitlementResponse{})
		}
		return errors.DatabaseError(c, err)
	}

	return c.JSON(http.StatusOK, models.EntitlementResponse{
		IsPremium:    ent.IsPremium,
		PremiumSince: ent.PremiumSince,
		PackageID:    ent.PackageID,
		UpdatedAt:    ent.UpdatedAt,
	})
}

func (h *PaymentsHandler) openError(c echo.Context, err error) error {
	switch {
	case stderrors.Is(err, context.Canceled):
		// Client went away, nobody reads the response
		return c.NoContent(http.StatusRequestTimeout)
	case stderrors.Is(err, context.DeadlineExceeded):
		return c.JSON(http.StatusServiceUnavailable, models.ErrorResponse{
			Error:   "timeout",
			Message: "Confirmation took too long. Please check again.",
		})
	case stderrors.Is(err, confirm.ErrInvalidTransition):
		return errors.ConflictError(c, "Confirmation is already in progress.")
	default:
		return errors.FromDomain(c, err)
	}
}

// report sends Error views to Sentry when the request carries a hub
func (h *PaymentsHandler) report(c echo.Context, view confirm.View) {
	if view.State != confirm.StateError || view.Cause == nil {
		return
	}
	hub := sentryecho.GetHubFromContext(c)
	if hub == nil {
		return
	}
	hub.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("surface", string(view.Surface))
		scope.SetTag("outcome", string(view.Outcome))
		hub.CaptureException(view.Cause)
	})
}

func checkoutResponse(res *billing.InitiateResult) models.CheckoutResponse {
	return models.CheckoutResponse{
		URL:           res.RedirectURL,
		SessionID:     res.SessionID,
		PackageID:     res.PackageID,
		DisplayAmount: res.DisplayAmount,
	}
}
