package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Kaizenpbc/cpr-apr12-sub000/internal/service"
	appErrors "github.com/Kaizenpbc/cpr-apr12-sub000/pkg/errors"
	"github.com/Kaizenpbc/cpr-apr12-sub000/pkg/response"
)

// PricingHandler exposes pricing catalog endpoints.
type PricingHandler struct {
	pricing *service.PricingService
}

// NewPricingHandler constructs PricingHandler.
func NewPricingHandler(pricing *service.PricingService) *PricingHandler {
	return &PricingHandler{pricing: pricing}
}

// Create godoc
// @Summary Create a pricing rule
// @Tags Pricing
// @Accept json
// @Produce json
// @Param payload body service.CreatePricingRuleRequest true "Pricing rule payload"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /pricing-rules [post]
func (h *PricingHandler) Create(c *gin.Context) {
	var req service.CreatePricingRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	rule, err := h.pricing.Create(c.Request.Context(), actorFromContext(c), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, rule)
}

// List godoc
// @Summary List pricing rules
// @Tags Pricing
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /pricing-rules [get]
func (h *PricingHandler) List(c *gin.Context) {
	rules, fromCache, err := h.pricing.List(c.Request.Context(), actorFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, rules, nil, map[string]interface{}{"cached": fromCache})
}

// UpdateRate godoc
// @Summary Update a pricing rule rate
// @Tags Pricing
// @Accept json
// @Produce json
// @Param id path string true "Pricing rule ID"
// @Param payload body service.UpdatePricingRuleRequest true "Rate payload"
// @Success 200 {object} response.Envelope
// @Router /pricing-rules/{id} [put]
func (h *PricingHandler) UpdateRate(c *gin.Context) {
	var req service.UpdatePricingRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	rule, err := h.pricing.UpdateRate(c.Request.Context(), actorFromContext(c), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, rule, nil)
}

// Delete godoc
// @Summary Delete a pricing rule
// @Tags Pricing
// @Produce json
// @Param id path string true "Pricing rule ID"
// @Success 204
// @Router /pricing-rules/{id} [delete]
func (h *PricingHandler) Delete(c *gin.Context) {
	if err := h.pricing.Delete(c.Request.Context(), actorFromContext(c), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
