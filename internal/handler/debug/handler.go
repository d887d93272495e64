// Package debug serves an inspection endpoint showing how a request was
// attributed. It is only routed when debugging is enabled.
package debug

import (
	"net/http"

	"github.com/TomasB/classify/internal/app"
	"github.com/TomasB/classify/internal/data"
	"github.com/TomasB/classify/internal/proxy"
	"github.com/gin-gonic/gin"
)

type metadataSource interface {
	Metadata() (data.Metadata, error)
}

// Response describes the attribution of the current request.
type Response struct {
	Peer           string         `json:"peer"`
	ForwardedChain []string       `json:"forwarded_chain"`
	TrustedProxies []string       `json:"trusted_proxies"`
	ClientIP       string         `json:"client_ip"`
	Found          bool           `json:"found"`
	Location       data.Location  `json:"location"`
	Headers        http.Header    `json:"headers"`
	Dataset        *data.Metadata `json:"dataset"`
	GeoReady       bool           `json:"geo_ready"`
}

// Inspect handles GET /debug.
func Inspect(c *gin.Context) {
	state, ok := app.FromContext(c)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "service misconfigured"})
		return
	}

	chain := proxy.ChainFromRequest(c.Request)
	a := state.Attribute(chain, proxy.PeerAddr(c.Request.RemoteAddr))

	resp := Response{
		Peer:           a.Peer.String(),
		ForwardedChain: a.Chain,
		TrustedProxies: state.TrustedProxies.Strings(),
		ClientIP:       a.ClientIP.String(),
		Found:          a.Found,
		Location:       a.Location,
		Headers:        c.Request.Header,
	}
	if resp.ForwardedChain == nil {
		resp.ForwardedChain = []string{}
	}
	if state.Geo != nil {
		resp.GeoReady = state.Geo.Ready()
		if src, ok := state.Geo.(metadataSource); ok {
			if meta, err := src.Metadata(); err == nil {
				resp.Dataset = &meta
			}
		}
	}

	c.JSON(http.StatusOK, resp)
}
