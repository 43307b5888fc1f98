package license

import (
	"net/http"
	"strconv"
	"time"

	"smallbiznis-licensing/pkg/db/pagination"
	"smallbiznis-licensing/pkg/errutil"

	"github.com/gin-gonic/gin"
)

// Handler exposes the license operations over HTTP.
type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(r gin.IRouter) {
	v1 := r.Group("/v1")
	v1.POST("/licenses", h.Issue)
	v1.GET("/licenses", h.List)
	v1.GET("/licenses/:id", h.Get)
	v1.POST("/licenses/activate", h.ActivateOnline)
	v1.POST("/licenses/offline", h.GenerateOfflineFile)
	v1.POST("/licenses/activate-offline", h.ActivateOffline)
	v1.POST("/licenses/validate", h.Validate)
	v1.POST("/licenses/revoke", h.Revoke)
	v1.GET("/statistics", h.Statistics)
}

// machineRequest identifies the caller's machine either by a precomputed
// fingerprint or by the raw attributes it is derived from.
type machineRequest struct {
	Fingerprint string             `json:"fingerprint"`
	Machine     *MachineAttributes `json:"machine"`
}

func (m machineRequest) fingerprint() string {
	if m.Fingerprint != "" {
		return m.Fingerprint
	}
	if m.Machine != nil {
		return Fingerprint(*m.Machine)
	}
	return ""
}

type keyRequest struct {
	LicenseKey string `json:"license_key" binding:"required"`
	machineRequest
}

type offlineActivationRequest struct {
	File string `json:"file" binding:"required"`
	machineRequest
}

type revokeRequest struct {
	LicenseKey string `json:"license_key" binding:"required"`
}

type listQuery struct {
	pagination.Pagination
	Type           string        `form:"type"`
	Status         string        `form:"status"`
	CompanyName    string        `form:"company_name"`
	ExpiringWithin time.Duration `form:"expiring_within"`
}

type listResponse struct {
	Data     []*License           `json:"data"`
	PageInfo *pagination.PageInfo `json:"page_info"`
}

func bindError(err error) error {
	return errutil.BadRequest("invalid request body", err, errutil.WithDetails(errutil.Detail{Field: "body", Message: err.Error()}))
}

// resultStatus maps a business outcome onto an HTTP status. The body always
// carries the full Result.
func resultStatus(res *Result) int {
	if res.Valid {
		return http.StatusOK
	}
	switch res.Code {
	case CodeNotFound:
		return http.StatusNotFound
	case CodeAlreadyBound:
		return http.StatusConflict
	case CodeRevoked, CodeExpired:
		return http.StatusForbidden
	case CodeInvalidArtifact:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusBadRequest
	}
}

func (h *Handler) Issue(c *gin.Context) {
	var req IssueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(bindError(err))
		return
	}

	l, err := h.svc.Issue(c.Request.Context(), req)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, l)
}

func (h *Handler) ActivateOnline(c *gin.Context) {
	var req keyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(bindError(err))
		return
	}

	res, err := h.svc.ActivateOnline(c.Request.Context(), req.LicenseKey, req.fingerprint())
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(resultStatus(res), res)
}

func (h *Handler) GenerateOfflineFile(c *gin.Context) {
	var req keyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(bindError(err))
		return
	}

	res, err := h.svc.GenerateOfflineFile(c.Request.Context(), req.LicenseKey, req.fingerprint())
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(resultStatus(res), res)
}

func (h *Handler) ActivateOffline(c *gin.Context) {
	var req offlineActivationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(bindError(err))
		return
	}

	res, err := h.svc.ActivateOffline(c.Request.Context(), req.File, req.fingerprint())
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(resultStatus(res), res)
}

func (h *Handler) Validate(c *gin.Context) {
	var req keyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(bindError(err))
		return
	}

	res, err := h.svc.ValidateLicense(c.Request.Context(), req.LicenseKey, req.fingerprint())
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(resultStatus(res), res)
}

func (h *Handler) Revoke(c *gin.Context) {
	var req revokeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(bindError(err))
		return
	}

	revoked, err := h.svc.RevokeLicense(c.Request.Context(), req.LicenseKey)
	if err != nil {
		_ = c.Error(err)
		return
	}

	status := http.StatusOK
	if !revoked {
		status = http.StatusNotFound
	}
	c.JSON(status, gin.H{"revoked": revoked})
}

func (h *Handler) List(c *gin.Context) {
	var q listQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		_ = c.Error(errutil.BadRequest("invalid query", err))
		return
	}

	licenses, pageInfo, err := h.svc.ListLicenses(c.Request.Context(), ListFilter{
		Type:           LicenseType(q.Type),
		Status:         LicenseStatus(q.Status),
		CompanyName:    q.CompanyName,
		ExpiringWithin: q.ExpiringWithin,
		Limit:          q.Limit,
		Cursor:         q.Cursor,
	})
	if err != nil {
		_ = c.Error(err)
		return
	}

	if licenses == nil {
		licenses = []*License{}
	}
	c.JSON(http.StatusOK, listResponse{Data: licenses, PageInfo: pageInfo})
}

func (h *Handler) Get(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		_ = c.Error(errutil.BadRequest("license id must be numeric", err))
		return
	}

	l, err := h.svc.GetLicense(c.Request.Context(), id)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, l)
}

func (h *Handler) Statistics(c *gin.Context) {
	stats, err := h.svc.GetStatistics(c.Request.Context())
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, stats)
}
