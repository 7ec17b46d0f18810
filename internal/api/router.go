package api

import (
	"context"
	"net/http"

	"github.com/julienschmidt/httprouter"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	apiContext "inkwell/internal/api/context"
	"inkwell/internal/api/handlers"
	"inkwell/internal/api/middleware"
)

type Dependencies struct {
	AuthHandler        *handlers.AuthHandler
	APIKeyHandler      *handlers.APIKeyHandler
	JobHandler         *handlers.JobHandler
	TitleHandler       *handlers.TitleHandler
	CampaignHandler    *handlers.CampaignHandler
	CreditHandler      *handlers.CreditHandler
	IntegrationHandler *handlers.IntegrationHandler
	InternalHandler    *handlers.InternalHandler
	HealthHandler      *handlers.HealthHandler
	AuthMiddleware     *middleware.AuthMiddleware
	InternalMiddleware *middleware.InternalMiddleware
}

func NewRouter(deps *Dependencies) *httprouter.Router {
	router := httprouter.New()

	router.GET("/health", wrap(deps.HealthHandler.Check))
	router.Handler(http.MethodGet, "/metrics", promhttp.Handler())

	// Authentication
	router.POST("/api/v1/auth/signup", wrap(deps.AuthHandler.Signup))
	router.POST("/api/v1/auth/login", wrap(deps.AuthHandler.Login))
	router.POST("/api/v1/auth/refresh", wrap(deps.AuthHandler.Refresh))

	authMid := deps.AuthMiddleware
	internalMid := deps.InternalMiddleware

	router.GET("/api/v1/auth/me", chain(deps.AuthHandler.Me, authMid.Handle))

	// API keys
	router.POST("/api/v1/api-keys", chain(deps.APIKeyHandler.Create, authMid.Handle))
	router.GET("/api/v1/api-keys", chain(deps.APIKeyHandler.List, authMid.Handle))
	router.DELETE("/api/v1/api-keys/:key_id", chain(deps.APIKeyHandler.Revoke, authMid.Handle))

	// Articles
	router.POST("/api/v1/articles", chain(deps.JobHandler.Create, authMid.Handle))
	router.GET("/api/v1/articles", chain(deps.JobHandler.List, authMid.Handle))
	router.GET("/api/v1/articles/:job_id", chain(deps.JobHandler.Get, authMid.Handle))
	router.PATCH("/api/v1/articles/:job_id", chain(deps.JobHandler.Update, authMid.Handle))
	router.DELETE("/api/v1/articles/:job_id", chain(deps.JobHandler.Delete, authMid.Handle))
	router.POST("/api/v1/articles/:job_id/retry", chain(deps.JobHandler.Retry, authMid.Handle))

	// Title review flow
	router.POST("/api/v1/titles/generate", chain(deps.TitleHandler.Generate, authMid.Handle))
	router.PATCH("/api/v1/titles/:title_id", chain(deps.TitleHandler.Verify, authMid.Handle))
	router.POST("/api/v1/titles/batch", chain(deps.TitleHandler.Batch, authMid.Handle))

	// Campaigns
	router.POST("/api/v1/campaigns", chain(deps.CampaignHandler.Create, authMid.Handle))
	router.GET("/api/v1/campaigns", chain(deps.CampaignHandler.List, authMid.Handle))
	router.GET("/api/v1/campaigns/:campaign_id", chain(deps.CampaignHandler.Get, authMid.Handle))
	router.PATCH("/api/v1/campaigns/:campaign_id", chain(deps.CampaignHandler.Update, authMid.Handle))
	router.POST("/api/v1/campaigns/:campaign_id/pause", chain(deps.CampaignHandler.Pause, authMid.Handle))
	router.POST("/api/v1/campaigns/:campaign_id/resume", chain(deps.CampaignHandler.Resume, authMid.Handle))
	router.POST("/api/v1/campaigns/:campaign_id/cancel", chain(deps.CampaignHandler.Cancel, authMid.Handle))

	// Dashboard stats
	router.GET("/api/v1/stats", chain(deps.JobHandler.Stats, authMid.Handle))

	// Credits
	router.GET("/api/v1/credits/balance", chain(deps.CreditHandler.Balance, authMid.Handle))
	router.GET("/api/v1/credits/transactions", chain(deps.CreditHandler.Transactions, authMid.Handle))
	router.POST("/api/v1/credits/purchase", chain(deps.CreditHandler.Purchase, authMid.Handle))

	// Webhook integrations
	router.POST("/api/v1/integrations", chain(deps.IntegrationHandler.Create, authMid.Handle))
	router.GET("/api/v1/integrations", chain(deps.IntegrationHandler.List, authMid.Handle))
	router.GET("/api/v1/integrations/:integration_id", chain(deps.IntegrationHandler.Get, authMid.Handle))
	router.PATCH("/api/v1/integrations/:integration_id", chain(deps.IntegrationHandler.Update, authMid.Handle))
	router.DELETE("/api/v1/integrations/:integration_id", chain(deps.IntegrationHandler.Delete, authMid.Handle))
	router.POST("/api/v1/integrations/:integration_id/test", chain(deps.IntegrationHandler.Test, authMid.Handle))

	// Worker callbacks
	router.POST("/internal/jobs/complete", chain(deps.InternalHandler.JobComplete, internalMid.Handle))

	return router
}

func chain(handler http.HandlerFunc, middlewares ...func(http.HandlerFunc) http.HandlerFunc) httprouter.Handle {
	for i := len(middlewares) - 1; i >= 0; i-- {
		handler = middlewares[i](handler)
	}
	return wrap(handler)
}

func wrap(handler http.HandlerFunc) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		ctx := context.WithValue(r.Context(), apiContext.Params, ps)
		handler(w, r.WithContext(ctx))
	}
}
