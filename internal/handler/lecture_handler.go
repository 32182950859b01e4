package handler

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/tutorhub/tutorhub-api/internal/models"
	"github.com/tutorhub/tutorhub-api/internal/service"
	appErrors "github.com/tutorhub/tutorhub-api/pkg/errors"
	"github.com/tutorhub/tutorhub-api/pkg/response"
)

// LectureHandler exposes lecture-hour ledger endpoints.
type LectureHandler struct {
	lectures *service.LectureService
}

// NewLectureHandler constructs LectureHandler.
func NewLectureHandler(lectures *service.LectureService) *LectureHandler {
	return &LectureHandler{lectures: lectures}
}

// List godoc
// @Summary List lecture-hour ledgers visible to the caller
// @Tags LectureHours
// @Produce json
// @Security BearerAuth
// @Param studentId query string false "Filter by student"
// @Param tutorId query string false "Filter by tutor"
// @Param subject query string false "Filter by subject"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /lecture-hours [get]
func (h *LectureHandler) List(c *gin.Context) {
	var filter models.LectureHoursFilter
	filter.StudentID = c.Query("studentId")
	filter.TutorID = c.Query("tutorId")
	filter.Subject = c.Query("subject")
	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		filter.Page = page
	}
	if size, err := strconv.Atoi(c.DefaultQuery("limit", "20")); err == nil {
		filter.PageSize = size
	}

	ledgers, pagination, err := h.lectures.List(c.Request.Context(), principalFromContext(c), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, ledgers, pagination)
}

// Get godoc
// @Summary Fetch one ledger with its session history
// @Tags LectureHours
// @Produce json
// @Security BearerAuth
// @Param id path string true "Ledger ID"
// @Success 200 {object} response.Envelope
// @Router /lecture-hours/{id} [get]
func (h *LectureHandler) Get(c *gin.Context) {
	detail, err := h.lectures.Get(c.Request.Context(), principalFromContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, detail, nil)
}

// RecordPayment godoc
// @Summary Record a payment against a ledger
// @Tags LectureHours
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Ledger ID"
// @Param payload body service.RecordPaymentRequest true "Payment payload"
// @Success 200 {object} response.Envelope
// @Router /lecture-hours/{id}/payments [post]
func (h *LectureHandler) RecordPayment(c *gin.Context) {
	var req service.RecordPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	ledger, err := h.lectures.RecordPayment(c.Request.Context(), principalFromContext(c), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, ledger, nil)
}

// Statement godoc
// @Summary Download a ledger statement as CSV or PDF
// @Tags LectureHours
// @Produce octet-stream
// @Security BearerAuth
// @Param id path string true "Ledger ID"
// @Param format query string false "csv or pdf" default(csv)
// @Success 200 {file} binary
// @Router /lecture-hours/{id}/statement [get]
func (h *LectureHandler) Statement(c *gin.Context) {
	format := c.DefaultQuery("format", "csv")
	data, contentType, err := h.lectures.Statement(c.Request.Context(), principalFromContext(c), c.Param("id"), format)
	if err != nil {
		response.Error(c, err)
		return
	}
	filename := fmt.Sprintf("statement-%s.%s", c.Param("id"), format)
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Data(http.StatusOK, contentType, data)
}
