package prescription

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/prescription-api/internal/model"
	prescriptionService "github.com/jwalitptl/prescription-api/internal/service/prescription"
	apperrors "github.com/jwalitptl/prescription-api/pkg/errors"
	"github.com/jwalitptl/prescription-api/pkg/httputil"
)

type Handler struct {
	service prescriptionService.PrescriptionServicer
}

func NewHandler(service prescriptionService.PrescriptionServicer) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	prescriptions := r.Group("/prescriptions")
	{
		prescriptions.POST("", h.CreatePrescription)
		prescriptions.GET("/:id", h.GetPrescription)
		prescriptions.GET("/:id/download", h.DownloadPrescription)
	}
}

type prescriptionResponse struct {
	*model.PrescriptionRecord
	DownloadURL string `json:"download_url"`
}

func newPrescriptionResponse(record *model.PrescriptionRecord) prescriptionResponse {
	return prescriptionResponse{
		PrescriptionRecord: record,
		DownloadURL:        fmt.Sprintf("/api/v1/prescriptions/%d/download", record.ID),
	}
}

func (h *Handler) CreatePrescription(c *gin.Context) {
	var req model.GeneratePrescriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(err).SetType(gin.ErrorTypeBind)
		return
	}

	result, err := h.service.Generate(c.Request.Context(), &req)
	if err != nil {
		_ = c.Error(err)
		httputil.RespondWithError(c, err)
		return
	}

	httputil.RespondWithSuccess(c, http.StatusCreated, newPrescriptionResponse(result.Record))
}

func (h *Handler) GetPrescription(c *gin.Context) {
	id, err := parseID(c)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	record, err := h.service.Get(c.Request.Context(), id)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	httputil.RespondWithSuccess(c, http.StatusOK, newPrescriptionResponse(record))
}

func (h *Handler) DownloadPrescription(c *gin.Context) {
	id, err := parseID(c)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	record, f, err := h.service.Open(c.Request.Context(), id)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	defer f.Close()

	c.Header("Content-Type", "application/pdf")
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", record.DocumentFilename))
	http.ServeContent(c.Writer, c.Request, record.DocumentFilename, record.CreatedAt.Time, f)
}

func parseID(c *gin.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, apperrors.BadRequest("invalid prescription ID", err)
	}
	return id, nil
}
