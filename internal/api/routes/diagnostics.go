package routes

import (
	"errors"
	"sort"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/sirupsen/logrus"

	"github.com/udprip/udprip/internal/api"
	"github.com/udprip/udprip/internal/metrics"
	"github.com/udprip/udprip/internal/router"
	"github.com/udprip/udprip/internal/routing"
	"github.com/udprip/udprip/internal/version"
	"github.com/udprip/udprip/internal/wire"
)

// RegisterDiagnostics 暴露 /-/ 诊断接口，供实验脚本与 SRE 查询和操纵
// 单台路由器。指标端点直接挂接 Prometheus 的 HTTP 处理器。
func RegisterDiagnostics(app *fiber.App, node api.NodeControl, m *metrics.Metrics, logger *logrus.Logger) {
	if app == nil || node == nil {
		return
	}

	app.Get("/-/status", func(c fiber.Ctx) error {
		return c.JSON(encodeStatus(node.Status(), node.HandledKinds()))
	})

	app.Get("/-/routes", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{"routes": encodeRoutes(node.Routes())})
	})

	app.Get("/-/links", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{"links": encodeLinks(node.Links())})
	})

	app.Get("/-/kinds", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{"kinds": encodeKinds(wire.List())})
	})

	app.Post("/-/links", func(c fiber.Ctx) error {
		var req linkRequest
		if err := c.Bind().Body(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "malformed_body"})
		}
		if err := node.AddLink(req.Address, req.Weight); err != nil {
			logRejected(logger, c, "link_add_rejected", err)
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error":  "link_rejected",
				"detail": err.Error(),
			})
		}
		return c.Status(fiber.StatusCreated).JSON(linkRequest{Address: req.Address, Weight: req.Weight})
	})

	app.Delete("/-/links/:ip", func(c fiber.Ctx) error {
		err := node.RemoveLink(c.Params("ip"))
		switch {
		case err == nil:
			return c.SendStatus(fiber.StatusNoContent)
		case errors.Is(err, router.ErrUnknownLink):
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "link_not_found"})
		default:
			logRejected(logger, c, "link_remove_rejected", err)
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error":  "link_rejected",
				"detail": err.Error(),
			})
		}
	})

	app.Post("/-/trace", func(c fiber.Ctx) error {
		var req traceRequest
		if err := c.Bind().Body(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "malformed_body"})
		}
		if err := node.StartTrace(req.Destination); err != nil {
			logRejected(logger, c, "trace_rejected", err)
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error":  "trace_rejected",
				"detail": err.Error(),
			})
		}
		// trace 是异步的，结果回到路由器 console，而不是这个响应。
		return c.Status(fiber.StatusAccepted).JSON(traceRequest{Destination: req.Destination})
	})

	if m != nil {
		app.Get("/-/metrics", adaptor.HTTPHandler(m.Handler()))
	}
}

type linkRequest struct {
	Address string `json:"address"`
	Weight  int    `json:"weight"`
}

type traceRequest struct {
	Destination string `json:"destination"`
}

type statusPayload struct {
	Address            string   `json:"address"`
	Port               int      `json:"port"`
	Version            string   `json:"version"`
	PeriodSeconds      float64  `json:"period_seconds"`
	AgingWindowSeconds float64  `json:"aging_window_seconds"`
	StartedAt          string   `json:"started_at,omitempty"`
	Neighbors          int      `json:"neighbors"`
	Routes             int      `json:"routes"`
	Kinds              []string `json:"kinds"`
}

type routePayload struct {
	Destination string   `json:"destination"`
	Cost        int      `json:"cost"`
	NextHops    []string `json:"next_hops"`
}

type linkPayload struct {
	Address        string  `json:"address"`
	Weight         int     `json:"weight"`
	LastSeenAgeSec float64 `json:"last_seen_age_seconds"`
}

type kindPayload struct {
	Key         string `json:"key"`
	Description string `json:"description"`
	Forwardable bool   `json:"forwardable"`
}

func encodeStatus(status router.Status, kinds []string) statusPayload {
	payload := statusPayload{
		Address:            status.Address,
		Port:               status.Port,
		Version:            version.Full(),
		PeriodSeconds:      status.Period.Seconds(),
		AgingWindowSeconds: status.AgingWindow.Seconds(),
		Neighbors:          status.Neighbors,
		Routes:             status.Routes,
		Kinds:              kinds,
	}
	if !status.StartedAt.IsZero() {
		payload.StartedAt = status.StartedAt.Format(time.RFC3339)
	}
	return payload
}

func encodeRoutes(routes []routing.Route) []routePayload {
	if len(routes) == 0 {
		return nil
	}
	sort.Slice(routes, func(i, j int) bool {
		return routes[i].Destination < routes[j].Destination
	})
	result := make([]routePayload, 0, len(routes))
	for _, route := range routes {
		result = append(result, routePayload{
			Destination: route.Destination,
			Cost:        route.Cost,
			NextHops:    append([]string(nil), route.NextHops...),
		})
	}
	return result
}

func encodeLinks(links []routing.Link) []linkPayload {
	if len(links) == 0 {
		return nil
	}
	sort.Slice(links, func(i, j int) bool {
		return links[i].Address < links[j].Address
	})
	result := make([]linkPayload, 0, len(links))
	for _, link := range links {
		result = append(result, linkPayload{
			Address:        link.Address,
			Weight:         link.Weight,
			LastSeenAgeSec: time.Since(link.LastSeen).Seconds(),
		})
	}
	return result
}

func encodeKinds(kinds []wire.KindMetadata) []kindPayload {
	sort.Slice(kinds, func(i, j int) bool {
		return kinds[i].Key < kinds[j].Key
	})
	result := make([]kindPayload, 0, len(kinds))
	for _, meta := range kinds {
		result = append(result, kindPayload{
			Key:         meta.Key,
			Description: meta.Description,
			Forwardable: meta.Forwardable,
		})
	}
	return result
}

func logRejected(logger *logrus.Logger, c fiber.Ctx, action string, err error) {
	if logger == nil {
		return
	}
	logger.WithFields(logrus.Fields{
		"action":     action,
		"request_id": api.RequestID(c),
	}).WithError(err).Warn("诊断请求被拒绝")
}
