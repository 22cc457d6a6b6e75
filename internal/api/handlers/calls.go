package handlers

import (
	"bytes"
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"

	apperrors "github.com/acme/autodialer/pkg/errors"
)

type createCallRequest struct {
	Destination string `json:"destination"`
	Message     string `json:"message"`
}

func (h *HandlerSet) createCall(ctx *fiber.Ctx) error {
	var req createCallRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}
	if req.Destination == "" {
		return fiber.NewError(http.StatusBadRequest, "destination is required")
	}

	receipt, err := h.engine.SubmitSingle(ctx.Context(), req.Destination, req.Message)
	if err != nil {
		if errors.Is(err, apperrors.ErrValidation) && receipt != nil {
			return ctx.Status(http.StatusBadRequest).JSON(fiber.Map{
				"error":    err.Error(),
				"rejected": toRejections(receipt.Rejected),
			})
		}
		return translateError(err)
	}

	return ctx.Status(http.StatusAccepted).JSON(fiber.Map{
		"campaign_id": receipt.CampaignID,
		"call_id":     receipt.CallIDs[0],
	})
}

func (h *HandlerSet) overview(ctx *fiber.Ctx) error {
	stats, err := h.feed.Overview(ctx.Context())
	if err != nil {
		return translateError(err)
	}
	records, err := h.feed.Records(ctx.Context())
	if err != nil {
		return translateError(err)
	}

	return ctx.JSON(fiber.Map{
		"total":     stats.Total,
		"by_status": stats.ByStatus,
		"calls":     toCallResponses(records),
	})
}

func (h *HandlerSet) exportCSV(ctx *fiber.Ctx) error {
	var buf bytes.Buffer
	if err := h.feed.ExportCSV(ctx.Context(), &buf); err != nil {
		return translateError(err)
	}

	ctx.Set(fiber.HeaderContentType, "text/csv")
	ctx.Set(fiber.HeaderContentDisposition, `attachment; filename="calls.csv"`)
	return ctx.Send(buf.Bytes())
}
