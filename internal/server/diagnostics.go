package server

import (
	"github.com/gofiber/fiber/v3"

	"github.com/tile-hub/tile-hub/internal/version"
)

type providerPayload struct {
	Name string `json:"name"`
	Host string `json:"host"`
}

// registerDiagnosticsRoutes 暴露 /-/ 前缀下的诊断接口，供运维查询
// 服务状态与已配置的瓦片源。模板原文可能携带密钥，只输出 host。
func registerDiagnosticsRoutes(app *fiber.App, opts AppOptions) {
	app.Get("/-/health", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":    "ok",
			"version":   version.Full(),
			"providers": len(opts.Providers.List()),
		})
	})

	app.Get("/-/providers", func(c fiber.Ctx) error {
		templates := opts.Providers.List()
		payload := make([]providerPayload, 0, len(templates))
		for _, tpl := range templates {
			payload = append(payload, providerPayload{
				Name: tpl.Name(),
				Host: tpl.Host(),
			})
		}
		return c.JSON(fiber.Map{
			"providers": payload,
		})
	})
}
