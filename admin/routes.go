package admin

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nyxcrawl/scrapyengine/crawlerctx"
)

func registerRoutes(router *gin.Engine, cc *crawlerctx.Context) {
	router.GET("/healthz", healthHandler(cc))
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(cc.Registry, promhttp.HandlerOpts{})))
	router.GET("/stats", statsHandler(cc))
}

func healthHandler(cc *crawlerctx.Context) gin.HandlerFunc {
	return func(c *gin.Context) {
		health := cc.DB.HealthCheckAll(c.Request.Context())
		status := http.StatusOK
		for _, err := range health {
			if err != nil {
				status = http.StatusServiceUnavailable
				break
			}
		}

		checks := make(map[string]string, len(health))
		for name, err := range health {
			if err != nil {
				checks[name] = err.Error()
			} else {
				checks[name] = "ok"
			}
		}

		c.JSON(status, gin.H{
			"status":    map[bool]string{true: "ok", false: "degraded"}[status == http.StatusOK],
			"checks":    checks,
			"timestamp": time.Now().UTC(),
		})
	}
}

func statsHandler(cc *crawlerctx.Context) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"running_spiders": cc.RunningSpiders(),
			"items_scraped":   cc.Stats.ItemCount(),
			"pages_fetched":   cc.Stats.PageCount(),
			"errors":          cc.Stats.ErrorCount(),
		})
	}
}
