package handlers

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"

	"github.com/ardiansr/wa-bridge/internal/banrisk"
	"github.com/ardiansr/wa-bridge/internal/bridge"
	"github.com/ardiansr/wa-bridge/internal/pipeline"
)

type BridgeHandler struct {
	core *bridge.Core
}

func NewBridgeHandler(core *bridge.Core) *BridgeHandler {
	return &BridgeHandler{core: core}
}

// Register mounts all routes on the app.
func (h *BridgeHandler) Register(app *fiber.App, apiKey string) {
	app.Get("/health", h.Health)

	api := app.Group("/", APIKeyAuth(apiKey))
	api.Post("/send", h.Send)
	api.Get("/status", h.Status)
	api.Get("/rate-limits", h.RateLimits)
	api.Post("/account-age", h.SetAccountAge)
	api.Post("/reconnect", h.Reconnect)
	api.Get("/ban-warning", h.BanWarning)
	api.Post("/ban-warning/hibernate", h.EnterHibernation)
	api.Post("/ban-warning/exit-hibernation", h.ExitHibernation)
	api.Post("/ban-warning/reset", h.ResetBanWarning)
	api.Post("/presence", h.Presence)
	api.Get("/qr", h.QRCode)
}

// Send godoc
// @Summary Send a text message
// @Description Runs the anti-ban pipeline and sends a text message
// @Tags Messages
// @Accept json
// @Produce json
// @Router /send [post]
func (h *BridgeHandler) Send(c *fiber.Ctx) error {
	var req struct {
		To        string `json:"to"`
		Text      string `json:"text"`
		ReplyTo   string `json:"replyTo"`
		TimeoutMs int    `json:"timeoutMs"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request"})
	}
	if req.To == "" || req.Text == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "to and text are required"})
	}

	var ctx context.Context = c.Context()
	if req.TimeoutMs > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(req.TimeoutMs)*time.Millisecond)
		defer cancel()
	}

	id, err := h.core.Send(ctx, req.To, req.Text, req.ReplyTo)
	if err != nil {
		return sendErrorResponse(c, err)
	}
	return c.JSON(fiber.Map{"messageId": id})
}

// Status godoc
// @Summary Bridge status snapshot
// @Tags Status
// @Produce json
// @Router /status [get]
func (h *BridgeHandler) Status(c *fiber.Ctx) error {
	return c.JSON(h.core.Status())
}

// RateLimits godoc
// @Summary Current rate-limit usage
// @Tags Status
// @Produce json
// @Router /rate-limits [get]
func (h *BridgeHandler) RateLimits(c *fiber.Ctx) error {
	u := h.core.RateLimitStatus()
	return c.JSON(fiber.Map{
		"tier":          u.Tier,
		"hourly":        fiber.Map{"used": u.HourlyUsed, "cap": u.HourlyCap, "resetMs": u.HourlyReset.Milliseconds()},
		"daily":         fiber.Map{"used": u.DailyUsed, "cap": u.DailyCap, "resetMs": u.DailyReset.Milliseconds()},
		"minIntervalMs": u.MinInterval.Milliseconds(),
	})
}

// SetAccountAge godoc
// @Summary Set the account age in weeks
// @Tags Status
// @Accept json
// @Produce json
// @Router /account-age [post]
func (h *BridgeHandler) SetAccountAge(c *fiber.Ctx) error {
	var req struct {
		Weeks int `json:"weeks"`
	}
	if err := c.BodyParser(&req); err != nil || req.Weeks < 1 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "weeks must be a positive integer"})
	}
	tier := h.core.SetAccountAge(req.Weeks)
	log.Info().Int("weeks", req.Weeks).Str("tier", tier).Msg("Account age updated")
	return c.JSON(fiber.Map{"tier": tier})
}

// Reconnect godoc
// @Summary Request an immediate reconnect
// @Tags Session
// @Produce json
// @Router /reconnect [post]
func (h *BridgeHandler) Reconnect(c *fiber.Ctx) error {
	h.core.Reconnect()
	return c.JSON(fiber.Map{"status": "ok"})
}

// BanWarning godoc
// @Summary Ban-risk status
// @Tags Risk
// @Produce json
// @Router /ban-warning [get]
func (h *BridgeHandler) BanWarning(c *fiber.Ctx) error {
	return c.JSON(h.core.BanWarningStatus())
}

// EnterHibernation godoc
// @Summary Manually enter hibernation
// @Tags Risk
// @Accept json
// @Produce json
// @Router /ban-warning/hibernate [post]
func (h *BridgeHandler) EnterHibernation(c *fiber.Ctx) error {
	var req struct {
		DurationMinutes int `json:"durationMinutes"`
	}
	if err := c.BodyParser(&req); err != nil || req.DurationMinutes < 1 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "durationMinutes must be a positive integer"})
	}
	h.core.EnterHibernation(time.Duration(req.DurationMinutes) * time.Minute)
	return c.JSON(fiber.Map{"status": "hibernating"})
}

// ExitHibernation godoc
// @Summary Exit hibernation after the minimum duration
// @Tags Risk
// @Produce json
// @Router /ban-warning/exit-hibernation [post]
func (h *BridgeHandler) ExitHibernation(c *fiber.Ctx) error {
	if err := h.core.ExitHibernation(); err != nil {
		if errors.Is(err, banrisk.ErrHibernationTooEarly) {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": err.Error()})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(fiber.Map{"status": "ok"})
}

// ResetBanWarning godoc
// @Summary Reset the risk state
// @Tags Risk
// @Produce json
// @Router /ban-warning/reset [post]
func (h *BridgeHandler) ResetBanWarning(c *fiber.Ctx) error {
	h.core.ResetBanWarning()
	return c.JSON(fiber.Map{"status": "ok"})
}

// Presence godoc
// @Summary Override the global presence beacon
// @Tags Session
// @Accept json
// @Produce json
// @Router /presence [post]
func (h *BridgeHandler) Presence(c *fiber.Ctx) error {
	var req struct {
		Online *bool `json:"online"`
	}
	if err := c.BodyParser(&req); err != nil || req.Online == nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "online is required"})
	}
	h.core.PresenceOverride(*req.Online)
	return c.JSON(fiber.Map{"status": "ok", "online": *req.Online})
}

// QRCode godoc
// @Summary Get the pairing QR code
// @Tags Session
// @Produce image/png
// @Router /qr [get]
func (h *BridgeHandler) QRCode(c *fiber.Ctx) error {
	code, png := h.core.QR()
	if code == "" || png == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "no pairing in progress"})
	}
	c.Set("Content-Type", "image/png")
	c.Set("Content-Disposition", "inline; filename=whatsapp-qr.png")
	return c.Send(png)
}

// Health godoc
// @Summary Liveness probe
// @Tags Status
// @Produce json
// @Router /health [get]
func (h *BridgeHandler) Health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}

// sendErrorResponse maps pipeline error codes to HTTP statuses while
// preserving the structured payload.
func sendErrorResponse(c *fiber.Ctx, err error) error {
	var se *pipeline.SendError
	if !errors.As(err, &se) {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}

	body := fiber.Map{"code": se.Code, "error": se.Message}
	status := fiber.StatusInternalServerError

	switch se.Code {
	case pipeline.CodeInvalidJID:
		status = fiber.StatusBadRequest
	case pipeline.CodeNotConnected, pipeline.CodeHibernating:
		status = fiber.StatusServiceUnavailable
	case pipeline.CodeWarmupLimit:
		status = fiber.StatusTooManyRequests
		body["perDayRemaining"] = se.Remaining
	case pipeline.CodeRateLimited:
		status = fiber.StatusTooManyRequests
		body["waitMs"] = se.Wait.Milliseconds()
		body["scope"] = se.Scope
	case pipeline.CodeCanceled:
		status = fiber.StatusRequestTimeout
	case pipeline.CodeProtocolError:
		status = fiber.StatusBadGateway
		body["retryable"] = se.Retryable
	}
	return c.Status(status).JSON(body)
}
