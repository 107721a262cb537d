package httpapi

import (
	"net"
	"net/http"
	hpprof "net/http/pprof"
	"strings"

	"github.com/gin-gonic/gin"
)

const pprofPrefix = "/debug/pprof/"

// mountPprof exposes the runtime profiles behind operator tokens.
func (s *Server) mountPprof(r *gin.Engine) {
	g := r.Group(strings.TrimSuffix(pprofPrefix, "/"), s.requireToken())
	g.GET("/", gin.WrapF(pprofIndex))
	g.GET("/cmdline", gin.WrapF(hpprof.Cmdline))
	g.GET("/profile", gin.WrapF(hpprof.Profile))
	g.GET("/symbol", gin.WrapF(hpprof.Symbol))
	g.POST("/symbol", gin.WrapF(hpprof.Symbol))
	g.GET("/trace", gin.WrapF(hpprof.Trace))
	g.GET("/:profile", gin.WrapF(pprofIndex))
}

// pprofIndex serves both the index and the named profiles; Index resolves
// the profile from the path suffix.
func pprofIndex(w http.ResponseWriter, r *http.Request) {
	suffix := strings.TrimPrefix(r.URL.Path, pprofPrefix)
	if suffix == strings.TrimSuffix(pprofPrefix, "/") {
		suffix = ""
	}
	r2 := r.Clone(r.Context())
	r2.URL.Path = pprofPrefix + suffix
	hpprof.Index(w, r2)
}

func isLoopbackAddr(addr string) bool {
	h, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	h = strings.TrimSpace(h)
	if h == "" {
		// all interfaces
		return false
	}
	if strings.EqualFold(h, "localhost") {
		return true
	}
	ip := net.ParseIP(h)
	return ip != nil && ip.IsLoopback()
}
