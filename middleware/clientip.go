package middleware

import (
	"github.com/gofiber/fiber/v2"
)

const clientIPKey = "client_ip"

// ClientIP resolves the client identity once per request and stashes
// it in locals. Behind Cloudflare the socket address is the edge, so
// the CF-Connecting-IP header wins when the deployment says so.
func ClientIP(usingCloudflare bool) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ip := c.IP()
		if usingCloudflare {
			if v := c.Get("CF-Connecting-IP"); v != "" {
				ip = v
			}
		}
		c.Locals(clientIPKey, ip)
		return c.Next()
	}
}

// IPFromLocals returns the identity resolved by ClientIP.
func IPFromLocals(c *fiber.Ctx) string {
	if ip, ok := c.Locals(clientIPKey).(string); ok {
		return ip
	}
	return c.IP()
}
