package security

import (
	"strings"

	"github.com/gofiber/fiber/v2"
)

// PlotlyCDN serves the plotly.js bundle the chart previews are drawn with.
const PlotlyCDN = "https://cdn.plot.ly"

type HeadersConfig struct {
	AllowedOrigins []string
	IsDevelopment  bool
}

func HeadersMiddleware(cfg HeadersConfig) fiber.Handler {
	csp := strings.Join([]string{
		"default-src 'self'",
		"script-src 'self' 'unsafe-inline' " + PlotlyCDN,
		"style-src 'self' 'unsafe-inline'",
		"img-src 'self' data: blob:",
		"font-src 'self' data:",
		"connect-src " + connectSrc(cfg.AllowedOrigins),
		"frame-ancestors 'none'",
		"base-uri 'self'",
		"form-action 'self'",
	}, "; ")

	return func(c *fiber.Ctx) error {
		c.Set("X-Frame-Options", "DENY")
		c.Set("X-Content-Type-Options", "nosniff")
		c.Set("Referrer-Policy", "strict-origin-when-cross-origin")

		if !cfg.IsDevelopment {
			c.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}
		c.Set("Content-Security-Policy", csp)

		return c.Next()
	}
}

// connectSrc always allows same-origin HTTP and the comparison websocket.
func connectSrc(origins []string) string {
	sources := append([]string{"'self'", "ws:", "wss:"}, origins...)
	return strings.Join(sources, " ")
}
