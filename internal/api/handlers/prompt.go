package handlers

import (
	"net/http"

	"github.com/gofiber/fiber/v2"
)

type promptRequest struct {
	Prompt string `json:"prompt"`
}

// promptCall interprets a natural-language instruction into a single
// call request. Interpretation failures leave no record behind.
func (h *HandlerSet) promptCall(ctx *fiber.Ctx) error {
	var req promptRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}

	result, err := h.interpreter.Interpret(ctx.Context(), req.Prompt)
	if err != nil {
		return translateError(err)
	}

	receipt, err := h.engine.SubmitSingle(ctx.Context(), result.Destination, result.Message)
	if err != nil {
		return translateError(err)
	}

	return ctx.Status(http.StatusAccepted).JSON(fiber.Map{
		"campaign_id": receipt.CampaignID,
		"call_id":     receipt.CallIDs[0],
		"destination": result.Destination,
		"message":     result.Message,
	})
}
