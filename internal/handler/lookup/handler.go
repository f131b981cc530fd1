package lookup

import (
	"net/http"

	"github.com/gin-gonic/gin"

	lookupService "github.com/jwalitptl/prescription-api/internal/service/lookup"
	"github.com/jwalitptl/prescription-api/pkg/httputil"
)

// Handler exposes the reads the doctor's form makes before a prescription
// is filled in.
type Handler struct {
	service lookupService.LookupServicer
}

func NewHandler(service lookupService.LookupServicer) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/doctors/:id", h.GetDoctor)
	r.GET("/queue-tickets/:number/patient", h.GetTicketPatient)
}

func (h *Handler) GetDoctor(c *gin.Context) {
	doctor, err := h.service.FindDoctor(c.Request.Context(), c.Param("id"))
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, http.StatusOK, doctor)
}

func (h *Handler) GetTicketPatient(c *gin.Context) {
	patient, err := h.service.FindPatientByQueueNumber(c.Request.Context(), c.Param("number"))
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, http.StatusOK, patient)
}
