package app

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/newrelic/go-agent/v3/integrations/nrgin"
	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"cabgo/internal/domain"
	"cabgo/internal/handler"
	"cabgo/internal/middleware"
)

// RouterDeps contains all dependencies needed for the router.
type RouterDeps struct {
	RideHandler    *handler.RideHandler
	DriverHandler  *handler.DriverHandler
	UserHandler    *handler.UserHandler
	PaymentHandler *handler.PaymentHandler
	RatingHandler  *handler.RatingHandler
	Verifier       middleware.TokenVerifier
	RedisClient    *redis.Client
	NewRelicApp    *newrelic.Application
	Logger         *zap.Logger
}

// NewRouter creates a new Gin router with all routes registered.
func NewRouter(deps RouterDeps) *gin.Engine {
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(middleware.RequestLogger(deps.Logger))

	if deps.NewRelicApp != nil {
		router.Use(nrgin.Middleware(deps.NewRelicApp))
	}

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	rider := middleware.RequireRole(domain.RoleRider)
	driver := middleware.RequireRole(domain.RoleDriver)
	operator := middleware.RequireRole(domain.RoleOperator)

	v1 := router.Group("/v1")

	// Registration is open; credentials are issued elsewhere.
	v1.POST("/users/register", deps.UserHandler.Register)
	v1.POST("/drivers/register", deps.DriverHandler.Register)

	authed := v1.Group("")
	authed.Use(middleware.Authenticate(deps.Verifier))
	authed.Use(middleware.IdempotencyMiddleware(deps.RedisClient, deps.Logger))
	{
		authed.GET("/users/me", rider, deps.UserHandler.Me)

		drivers := authed.Group("/drivers")
		{
			drivers.GET("/me", driver, deps.DriverHandler.Me)
			drivers.GET("/available", operator, deps.DriverHandler.ListAvailable)
			drivers.POST("/:id/reconcile", operator, deps.DriverHandler.Reconcile)
		}

		rides := authed.Group("/rides")
		{
			rides.POST("", rider, deps.RideHandler.BookRide)
			rides.GET("", rider, deps.RideHandler.ListRides)
			rides.GET("/latest", rider, deps.RideHandler.GetLatestRide)
			rides.GET("/pending", driver, deps.RideHandler.GetPendingRides)
			rides.PUT("/status", driver, deps.RideHandler.UpdateStatus)
			rides.GET("/:id", deps.RideHandler.GetRide)
			rides.POST("/:id/cancel", deps.RideHandler.CancelRide)
		}

		payments := authed.Group("/payments")
		{
			payments.POST("", rider, deps.PaymentHandler.ProcessPayment)
			payments.GET("/ride/:rideId", rider, deps.PaymentHandler.GetReceipt)
		}

		ratings := authed.Group("/ratings")
		{
			ratings.POST("", rider, deps.RatingHandler.SubmitRating)
			ratings.GET("/me", driver, deps.RatingHandler.ListMine)
		}
	}

	return router
}
