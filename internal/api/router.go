package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pccr10001/modemd/internal/classify"
	"github.com/pccr10001/modemd/internal/identity"
	"github.com/pccr10001/modemd/internal/repository"
)

type Deps struct {
	Monitor     Monitor
	Modems      Modems
	Attachments *repository.AttachmentRepository
	Webhooks    *repository.WebhookRepository
	Table       identity.Table
	Rules       *classify.Dispatcher
	Metrics     http.Handler
	Token       string
}

func NewRouter(d Deps) *gin.Engine {
	if d.Table == nil {
		d.Table = identity.Default
	}
	if d.Rules == nil {
		d.Rules = classify.Default()
	}

	r := gin.New()
	r.Use(gin.Recovery(), RequestLogger())

	r.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "pong"})
	})
	if d.Metrics != nil {
		r.GET("/metrics", gin.WrapH(d.Metrics))
	}

	mh := NewModemHandler(d.Monitor, d.Modems, d.Attachments, d.Table, d.Rules)

	apiGroup := r.Group("/api/v1")
	apiGroup.Use(TokenAuth(d.Token))
	{
		apiGroup.GET("/modem", mh.GetModem)
		apiGroup.POST("/modem/rescan", mh.Rescan)
		apiGroup.POST("/modem/at", mh.ExecuteAT)
		apiGroup.GET("/families", mh.ListFamilies)
		apiGroup.GET("/attachments", mh.ListAttachments)

		if d.Webhooks != nil {
			wh := NewWebhookHandler(d.Webhooks)
			apiGroup.GET("/webhooks", wh.ListWebhooks)
			apiGroup.POST("/webhooks", wh.CreateWebhook)
			apiGroup.DELETE("/webhooks/:id", wh.DeleteWebhook)
		}
	}
	return r
}
