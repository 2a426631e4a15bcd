package middleware

import (
	"net"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/socialgov/apperr"
)

// IPWhitelist only admits clients whose IP matches an entry. Entries are
// single addresses or CIDR ranges; unparsable entries are ignored. An empty
// list admits everyone.
func IPWhitelist(entries []string) gin.HandlerFunc {
	exact := make(map[string]bool)
	var nets []*net.IPNet
	for _, e := range entries {
		if _, n, err := net.ParseCIDR(e); err == nil {
			nets = append(nets, n)
			continue
		}
		if ip := net.ParseIP(e); ip != nil {
			exact[ip.String()] = true
		}
	}
	open := len(entries) == 0
	return func(c *gin.Context) {
		if open {
			c.Next()
			return
		}
		ip := net.ParseIP(c.ClientIP())
		if ip != nil && exact[ip.String()] {
			c.Next()
			return
		}
		for _, n := range nets {
			if ip != nil && n.Contains(ip) {
				c.Next()
				return
			}
		}
		abort(c, http.StatusForbidden, apperr.KindPermissionDenied, "access denied")
	}
}
