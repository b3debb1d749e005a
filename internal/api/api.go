package api

import (
	"net/http"

	campaignHandler "github.com/RendaAI-dev/NewChats/internal/campaign/handler"
	connectionHandler "github.com/RendaAI-dev/NewChats/internal/connection/handler"

	"github.com/gin-gonic/gin"
)

type API struct {
	router            *gin.RouterGroup
	connectionHandler connectionHandler.Handler
	campaignHandler   campaignHandler.Handler
}

func New(router *gin.RouterGroup, connectionHandler connectionHandler.Handler, campaignHandler campaignHandler.Handler) API {
	return API{
		router:            router,
		connectionHandler: connectionHandler,
		campaignHandler:   campaignHandler,
	}
}

func (a *API) RegisterRoutes() {
	a.Health()
	apiGroup := a.router.Group("/api", identityMiddleware)
	{
		connectionGroup := apiGroup.Group("/connections")
		connectionGroup.POST("", a.connectionHandler.HandleConnect)
		connectionGroup.GET("", a.connectionHandler.HandleListConnections)
		connectionGroup.GET("/:connection_id", a.connectionHandler.HandleGetConnection)
		connectionGroup.POST("/:connection_id/reconnect", a.connectionHandler.HandleReconnect)
		connectionGroup.POST("/:connection_id/disconnect", a.connectionHandler.HandleDisconnect)
		connectionGroup.DELETE("/:connection_id", a.connectionHandler.HandleDeleteConnection)
		connectionGroup.POST("/:connection_id/send-message", a.connectionHandler.HandleSendMessage)

		campaignGroup := apiGroup.Group("/campaigns")
		campaignGroup.POST("", a.campaignHandler.HandleCreateCampaign)
		campaignGroup.GET("", a.campaignHandler.HandleListCampaigns)
		campaignGroup.GET("/:campaign_id", a.campaignHandler.HandleGetCampaign)
		campaignGroup.GET("/:campaign_id/stats", a.campaignHandler.HandleGetCampaignStats)
		campaignGroup.POST("/:campaign_id/start", a.campaignHandler.HandleStartCampaign)
		campaignGroup.POST("/:campaign_id/pause", a.campaignHandler.HandlePauseCampaign)

		apiGroup.GET("/events", a.connectionHandler.HandleEvents)
	}
}

// identityMiddleware lifts the caller identity set by the upstream gateway
// into the request context. Requests without it are rejected by the handlers.
func identityMiddleware(c *gin.Context) {
	if userID := c.GetHeader("X-User-ID"); userID != "" {
		c.Set("User-ID", userID)
	}
	c.Next()
}

func (a *API) Health() {
	a.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "ok"})
	})
}
