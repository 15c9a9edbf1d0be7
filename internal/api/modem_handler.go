package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pccr10001/modemd/internal/classify"
	"github.com/pccr10001/modemd/internal/hotplug"
	"github.com/pccr10001/modemd/internal/identity"
	"github.com/pccr10001/modemd/internal/registry"
	"github.com/pccr10001/modemd/internal/repository"
	"github.com/pccr10001/modemd/internal/worker"
)

// Monitor is the part of *hotplug.Monitor the API needs.
type Monitor interface {
	Status() hotplug.Status
	Rescan(ctx context.Context) error
}

// Modems is the part of *worker.Manager the API needs.
type Modems interface {
	Get(handle string) (worker.ModemStatus, bool)
	ExecuteAT(handle, cmd string, timeout time.Duration) (string, error)
}

type ModemHandler struct {
	mon         Monitor
	modems      Modems
	attachments *repository.AttachmentRepository
	table       identity.Table
	rules       *classify.Dispatcher
}

func NewModemHandler(mon Monitor, modems Modems, attachments *repository.AttachmentRepository, table identity.Table, rules *classify.Dispatcher) *ModemHandler {
	return &ModemHandler{mon: mon, modems: modems, attachments: attachments, table: table, rules: rules}
}

type modemResponse struct {
	hotplug.Status
	Driver *worker.ModemStatus `json:"driver,omitempty"`
}

func (h *ModemHandler) GetModem(c *gin.Context) {
	st := h.mon.Status()
	resp := modemResponse{Status: st}
	if st.Handle != "" && h.modems != nil {
		if ms, ok := h.modems.Get(st.Handle); ok {
			resp.Driver = &ms
		}
	}
	c.JSON(http.StatusOK, resp)
}

func (h *ModemHandler) Rescan(c *gin.Context) {
	err := h.mon.Rescan(c.Request.Context())
	if err != nil {
		c.JSON(rescanStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, h.mon.Status())
}

func rescanStatus(err error) int {
	switch {
	case errors.Is(err, registry.ErrBusy):
		return http.StatusConflict
	case errors.Is(err, registry.ErrNoModem):
		return http.StatusNotFound
	case errors.Is(err, registry.ErrIncomplete), errors.Is(err, registry.ErrStaleNode), errors.Is(err, registry.ErrNoRule):
		return http.StatusUnprocessableEntity
	case errors.Is(err, registry.ErrProvision):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func (h *ModemHandler) ExecuteAT(c *gin.Context) {
	var req struct {
		Cmd     string `json:"cmd" binding:"required"`
		Timeout int    `json:"timeout"` // milliseconds
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	st := h.mon.Status()
	if st.Handle == "" || h.modems == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "No registered modem"})
		return
	}

	timeout := 5 * time.Second
	if req.Timeout > 0 {
		timeout = time.Duration(req.Timeout) * time.Millisecond
	}

	resp, err := h.modems.ExecuteAT(st.Handle, req.Cmd, timeout)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"response": resp})
	case errors.Is(err, worker.ErrBusy):
		c.JSON(http.StatusConflict, gin.H{"error": "Modem is busy"})
	case errors.Is(err, worker.ErrNoWorker), errors.Is(err, worker.ErrUnknownHandle):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

type FamilyInfo struct {
	Family   string           `json:"family"`
	HasRule  bool             `json:"has_rule"`
	Requires string           `json:"requires_attr,omitempty"`
	Devices  []identity.Entry `json:"devices"`
}

func (h *ModemHandler) ListFamilies(c *gin.Context) {
	c.JSON(http.StatusOK, Families(h.table, h.rules))
}

// Families groups the identity table by family.
func Families(table identity.Table, rules *classify.Dispatcher) []FamilyInfo {
	var list []FamilyInfo
	for _, fam := range table.Families() {
		f := FamilyInfo{Family: fam, Devices: []identity.Entry{}}
		if rule, ok := rules.Rule(fam); ok {
			f.HasRule = true
			f.Requires = rule.Sysattr
		}
		for _, e := range table {
			if e.Family == fam {
				f.Devices = append(f.Devices, e)
			}
		}
		list = append(list, f)
	}
	return list
}

func (h *ModemHandler) ListAttachments(c *gin.Context) {
	if h.attachments == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "History disabled"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	list, err := h.attachments.List(limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, list)
}
