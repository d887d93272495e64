// Package api serves the client classification endpoint.
package api

import (
	"log/slog"
	"net/http"

	"github.com/TomasB/classify/internal/app"
	"github.com/TomasB/classify/internal/classify"
	"github.com/TomasB/classify/internal/proxy"
	"github.com/gin-gonic/gin"
)

// HeaderDNT is the Do Not Track request header.
const HeaderDNT = "DNT"

const cacheControl = "max-age=0, no-cache, no-store, must-revalidate"

// ErrorResponse is returned when the handler cannot run at all.
type ErrorResponse struct {
	Error string `json:"error"`
}

// ClassifyClient handles GET / and GET /api/v1/classify_client/.
//
// A lookup miss or a malformed forwarded chain degrades the payload but never
// the status.
func ClassifyClient(c *gin.Context) {
	state, ok := app.FromContext(c)
	if !ok {
		slog.Error("classify handler called without application state")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "service misconfigured"})
		return
	}

	chain := proxy.ChainFromRequest(c.Request)
	peer := proxy.PeerAddr(c.Request.RemoteAddr)

	state.Log().Debug("classify request received", "peer", peer.String(), "chain", chain)

	resp := state.Classify(chain, peer, classify.ParseDNT(c.GetHeader(HeaderDNT)))

	c.Header("Cache-Control", cacheControl)
	c.JSON(http.StatusOK, resp)
}
