// Package middleware contains the gin middleware wrapping every request.
package middleware

import (
	"net/http"
	"time"

	"github.com/TomasB/classify/internal/app"
	"github.com/TomasB/classify/internal/metrics"
	"github.com/gin-gonic/gin"
)

// ResponseTimer counts in-flight requests and times every response.
//
// It emits ongoing_requests +1 before the handler runs and, on every exit
// path, a response timer tagged with the status class followed by
// ongoing_requests -1. Requests pass through untouched when no application
// state or sink is available.
func ResponseTimer() gin.HandlerFunc {
	return func(c *gin.Context) {
		state, ok := app.FromContext(c)
		if !ok || state.Metrics == nil {
			c.Next()
			return
		}
		sink := state.Metrics

		started := time.Now()
		sink.Incr(metrics.MetricOngoingRequests)

		completed := false
		defer func() {
			status := metrics.StatusError
			if completed && c.Request.Context().Err() == nil && isSuccess(c.Writer.Status()) {
				status = metrics.StatusSuccess
			}
			sink.Timing(metrics.MetricResponse, time.Since(started), metrics.Tag{Key: metrics.TagStatus, Value: status})
			sink.Decr(metrics.MetricOngoingRequests)
		}()

		c.Next()
		completed = true
	}
}

func isSuccess(code int) bool {
	return code >= http.StatusOK && code < http.StatusMultipleChoices
}
