// Package api exposes the read-only HTTP query surface and the dashboard
// WebSocket endpoint.
package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/perfwatch/perfwatch/internal/monitoring/alerting"
	"github.com/perfwatch/perfwatch/internal/monitoring/collector"
	"github.com/perfwatch/perfwatch/internal/monitoring/model"
	"github.com/perfwatch/perfwatch/internal/monitoring/store"
)

// Api wires the query handlers onto a gin engine.
type Api struct {
	store    *store.Store
	engine   *alerting.Engine
	registry *collector.Registry
	hub      *Hub
	started  time.Time
}

// New registers all routes on the router.
func New(router *gin.Engine, st *store.Store, eng *alerting.Engine, reg *collector.Registry, hub *Hub) *Api {
	api := &Api{store: st, engine: eng, registry: reg, hub: hub, started: time.Now()}
	api.setupRouters(router)
	return api
}

func (api *Api) setupRouters(router *gin.Engine) {
	router.GET("/api/metrics", api.GetMetrics)
	router.GET("/api/health", api.GetHealth)
	router.GET("/api/alerts", api.GetAlerts)
	router.GET("/api/collectors", api.GetCollectors)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	if api.hub != nil {
		router.GET("/ws", gin.WrapF(api.hub.HandleWS))
	}
}

func respondOK(c *gin.Context, data any) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "success",
		"data":      data,
		"timestamp": model.UnixSeconds(time.Now()),
	})
}

func respondErr(c *gin.Context, code int, msg string) {
	c.JSON(code, gin.H{
		"status":    "error",
		"error":     msg,
		"timestamp": model.UnixSeconds(time.Now()),
	})
}

// parseOptFloat parses an optional query parameter; the second return is
// false on a malformed value.
func parseOptFloat(c *gin.Context, key string) (*float64, bool) {
	raw := c.Query(key)
	if raw == "" {
		return nil, true
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, false
	}
	return &v, true
}

// GetMetrics serves GET /api/metrics?metric_name&start_time&end_time&aggregation.
// Without aggregation it returns the filtered points; with it, the scalar.
func (api *Api) GetMetrics(c *gin.Context) {
	name := c.Query("metric_name")
	if name == "" {
		respondErr(c, http.StatusBadRequest, "metric_name parameter required")
		return
	}
	start, ok := parseOptFloat(c, "start_time")
	if !ok {
		respondErr(c, http.StatusBadRequest, "malformed start_time")
		return
	}
	end, ok := parseOptFloat(c, "end_time")
	if !ok {
		respondErr(c, http.StatusBadRequest, "malformed end_time")
		return
	}

	if agg := c.Query("aggregation"); agg != "" {
		value, err := api.store.Aggregate(name, agg, start, end)
		switch {
		case err == nil:
			respondOK(c, gin.H{"metric_name": name, "aggregation": agg, "value": value})
		case errors.Is(err, store.ErrUnknownAggregation):
			respondErr(c, http.StatusBadRequest, err.Error())
		case errors.Is(err, store.ErrSeriesNotFound), errors.Is(err, store.ErrNoData):
			respondErr(c, http.StatusNotFound, err.Error())
		default:
			respondErr(c, http.StatusInternalServerError, "internal error")
		}
		return
	}

	points, err := api.store.Query(name, start, end)
	switch {
	case err == nil:
		respondOK(c, gin.H{"metric_name": name, "data_points": points})
	case errors.Is(err, store.ErrSeriesNotFound):
		respondErr(c, http.StatusNotFound, err.Error())
	default:
		respondErr(c, http.StatusInternalServerError, "internal error")
	}
}

// GetHealth serves GET /api/health.
func (api *Api) GetHealth(c *gin.Context) {
	respondOK(c, gin.H{
		"status":         "ok",
		"uptime_seconds": time.Since(api.started).Seconds(),
		"metric_count":   len(api.store.Names()),
		"active_alerts":  len(api.engine.ActiveAlerts()),
	})
}

// GetAlerts serves GET /api/alerts. ?active=true limits to unresolved
// alerts; otherwise the bounded history is returned, optionally limited.
func (api *Api) GetAlerts(c *gin.Context) {
	if c.Query("active") == "true" {
		respondOK(c, gin.H{"alerts": api.engine.ActiveAlerts()})
		return
	}
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			respondErr(c, http.StatusBadRequest, "malformed limit")
			return
		}
		limit = v
	}
	respondOK(c, gin.H{"alerts": api.engine.History(limit)})
}

// GetCollectors serves GET /api/collectors.
func (api *Api) GetCollectors(c *gin.Context) {
	respondOK(c, gin.H{"collectors": api.registry.List()})
}
