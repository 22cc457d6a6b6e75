package handlers

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/acme/autodialer/internal/domain"
	"github.com/acme/autodialer/internal/validate"
	apperrors "github.com/acme/autodialer/pkg/errors"
)

type createCampaignRequest struct {
	Numbers []string `json:"numbers"`
	Text    string   `json:"text"`
	Message string   `json:"message"`
}

type rejectionResponse struct {
	Input  string `json:"input"`
	Reason string `json:"reason"`
}

type submitResponse struct {
	CampaignID uuid.UUID           `json:"campaign_id"`
	CallIDs    []uuid.UUID         `json:"call_ids"`
	Rejected   []rejectionResponse `json:"rejected"`
}

type callRecordResponse struct {
	ID          uuid.UUID         `json:"id"`
	CampaignID  uuid.UUID         `json:"campaign_id"`
	Seq         int               `json:"seq"`
	Destination string            `json:"destination"`
	Message     string            `json:"message"`
	Status      domain.CallStatus `json:"status"`
	CreatedAt   time.Time         `json:"created_at"`
	StartedAt   *time.Time        `json:"started_at,omitempty"`
	FinishedAt  *time.Time        `json:"finished_at,omitempty"`
	DurationSec float64           `json:"duration_seconds,omitempty"`
	ErrorDetail *string           `json:"error_detail,omitempty"`
}

type campaignCallsResponse struct {
	CampaignID uuid.UUID            `json:"campaign_id"`
	Message    string               `json:"message"`
	Total      int                  `json:"total"`
	CreatedAt  time.Time            `json:"created_at"`
	Calls      []callRecordResponse `json:"calls"`
}

func (h *HandlerSet) createCampaign(ctx *fiber.Ctx) error {
	candidates, message, err := collectCandidates(ctx)
	if err != nil {
		return err
	}

	receipt, err := h.engine.Submit(ctx.Context(), candidates, message)
	if err != nil {
		if errors.Is(err, apperrors.ErrValidation) && receipt != nil {
			return ctx.Status(http.StatusBadRequest).JSON(fiber.Map{
				"error":    err.Error(),
				"rejected": toRejections(receipt.Rejected),
			})
		}
		return translateError(err)
	}

	return ctx.Status(http.StatusAccepted).JSON(submitResponse{
		CampaignID: receipt.CampaignID,
		CallIDs:    receipt.CallIDs,
		Rejected:   toRejections(receipt.Rejected),
	})
}

// collectCandidates merges the three input channels of a submission:
// an explicit number array, free text, and an uploaded CSV file.
func collectCandidates(ctx *fiber.Ctx) ([]string, string, error) {
	var candidates []string
	var message string

	if strings.HasPrefix(ctx.Get(fiber.HeaderContentType), fiber.MIMEMultipartForm) {
		message = ctx.FormValue("message")
		for _, token := range validate.ParseText(ctx.FormValue("text")) {
			candidates = append(candidates, token)
		}
		if header, err := ctx.FormFile("file"); err == nil {
			file, err := header.Open()
			if err != nil {
				return nil, "", fiber.NewError(http.StatusBadRequest, "unreadable file upload")
			}
			content, err := io.ReadAll(file)
			_ = file.Close()
			if err != nil {
				return nil, "", fiber.NewError(http.StatusBadRequest, "unreadable file upload")
			}
			parsed, err := validate.ParseCSV(content)
			if err != nil {
				return nil, "", fiber.NewError(http.StatusBadRequest, "malformed csv file")
			}
			candidates = append(candidates, parsed...)
		}
		return candidates, message, nil
	}

	var req createCampaignRequest
	if err := ctx.BodyParser(&req); err != nil {
		return nil, "", fiber.NewError(http.StatusBadRequest, "invalid request body")
	}
	candidates = append(candidates, req.Numbers...)
	candidates = append(candidates, validate.ParseText(req.Text)...)
	return candidates, req.Message, nil
}

func (h *HandlerSet) campaignCalls(ctx *fiber.Ctx) error {
	id, err := uuid.Parse(ctx.Params("id"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid campaign id")
	}

	campaign, records, err := h.feed.CampaignStatus(ctx.Context(), id)
	if err != nil {
		return translateError(err)
	}

	return ctx.JSON(campaignCallsResponse{
		CampaignID: campaign.ID,
		Message:    campaign.Message,
		Total:      campaign.Total,
		CreatedAt:  campaign.CreatedAt,
		Calls:      toCallResponses(records),
	})
}

func (h *HandlerSet) cancelCampaign(ctx *fiber.Ctx) error {
	id, err := uuid.Parse(ctx.Params("id"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid campaign id")
	}

	if err := h.engine.Cancel(ctx.Context(), id); err != nil {
		return translateError(err)
	}
	return ctx.SendStatus(http.StatusNoContent)
}

func toRejections(rejected []domain.Rejection) []rejectionResponse {
	out := make([]rejectionResponse, 0, len(rejected))
	for _, r := range rejected {
		out = append(out, rejectionResponse{Input: r.Input, Reason: r.Reason})
	}
	return out
}

func toCallResponses(records []domain.CallRecord) []callRecordResponse {
	out := make([]callRecordResponse, 0, len(records))
	for i := range records {
		r := &records[i]
		out = append(out, callRecordResponse{
			ID:          r.ID,
			CampaignID:  r.CampaignID,
			Seq:         r.Seq,
			Destination: r.Destination,
			Message:     r.Message,
			Status:      r.Status,
			CreatedAt:   r.CreatedAt,
			StartedAt:   r.StartedAt,
			FinishedAt:  r.FinishedAt,
			DurationSec: r.Duration().Seconds(),
			ErrorDetail: r.ErrorDetail,
		})
	}
	return out
}
