package httpapi

import (
	"errors"
	"net/http"

	"owl-care/internal/backend"
	"owl-care/internal/domain"
	"owl-care/internal/mutation"
	"owl-care/internal/projection"
	"owl-care/internal/service"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// RowsHandler 表格页面的行读写接口：每次单元格编辑对应一次 PATCH
type RowsHandler struct {
	svc    *service.SyncService
	logger *zap.Logger
}

func NewRowsHandler(svc *service.SyncService, logger *zap.Logger) *RowsHandler {
	return &RowsHandler{svc: svc, logger: logger}
}

type editRequest struct {
	Field string `json:"field"`
	Value any    `json:"value"`
}

type addRowRequest struct {
	Date string `json:"date"`
	Slot string `json:"slot"`
}

// outcomeResponse 修改结果；row 为 null 表示记录已不存在
type outcomeResponse struct {
	MutationID string         `json:"mutationId"`
	State      string         `json:"state"`
	Row        *domain.Record `json:"row"`
}

func toOutcomeResponse(out mutation.Outcome) outcomeResponse {
	resp := outcomeResponse{MutationID: out.MutationID, State: string(out.State)}
	if out.HasRecord {
		rec := out.Record
		resp.Row = &rec
	}
	return resp
}

// ListRows GET /care/api/v1/{resource}/rows?from=&to=&floor=&owner=&slot=
func (h *RowsHandler) ListRows(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := projection.Filters{
		Floor:   q.Get("floor"),
		OwnerID: q.Get("owner"),
		Slot:    q.Get("slot"),
		From:    q.Get("from"),
		To:      q.Get("to"),
	}
	set, err := h.svc.Rows(r.Context(), chi.URLParam(r, "resource"), f)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(set))
}

// AddRow POST /care/api/v1/{resource}/rows
func (h *RowsHandler) AddRow(w http.ResponseWriter, r *http.Request) {
	var req addRowRequest
	if err := readBodyJSON(r, maxBodyBytes, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, Fail("invalid body"))
		return
	}
	scope, ok := h.scope(w, r)
	if !ok {
		return
	}
	out, err := h.svc.AddRow(r.Context(), scope, domain.Dimension{Date: req.Date, Slot: req.Slot})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(toOutcomeResponse(out)))
}

// EditRow PATCH /care/api/v1/{resource}/rows/{key}
// key 可以是记录 ID、占位 ID 或槽位键
func (h *RowsHandler) EditRow(w http.ResponseWriter, r *http.Request) {
	var req editRequest
	if err := readBodyJSON(r, maxBodyBytes, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, Fail("invalid body"))
		return
	}
	if req.Field == "" {
		writeJSON(w, http.StatusBadRequest, Fail("field is required"))
		return
	}
	scope, ok := h.scope(w, r)
	if !ok {
		return
	}
	out, err := h.svc.Edit(r.Context(), scope, pathParam(r, "key"), req.Field, req.Value)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(toOutcomeResponse(out)))
}

// DeleteRow DELETE /care/api/v1/{resource}/rows/{key}
func (h *RowsHandler) DeleteRow(w http.ResponseWriter, r *http.Request) {
	scope, ok := h.scope(w, r)
	if !ok {
		return
	}
	out, err := h.svc.DeleteRow(r.Context(), scope, pathParam(r, "key"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(toOutcomeResponse(out)))
}

// Refresh POST /care/api/v1/{resource}/refresh?from=&to=
func (h *RowsHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	scope, ok := h.scope(w, r)
	if !ok {
		return
	}
	coll, err := h.svc.Refresh(r.Context(), scope)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(map[string]any{
		"version": coll.Version(),
		"records": coll.Len(),
		"stale":   coll.Stale(),
	}))
}

func (h *RowsHandler) scope(w http.ResponseWriter, r *http.Request) (domain.Scope, bool) {
	q := r.URL.Query()
	scope, err := h.svc.ScopeFor(chi.URLParam(r, "resource"), q.Get("from"), q.Get("to"))
	if err != nil {
		h.writeError(w, r, err)
		return domain.Scope{}, false
	}
	return scope, true
}

// writeError 把错误映射为 HTTP 状态与响应包
// 校验失败 400；会话过期 401 + 60401；后端失败 502（可重试）
func (h *RowsHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		ve *mutation.ValidationError
		re *mutation.RequestError
		be *backend.Error
	)
	switch {
	case errors.As(err, &ve):
		writeJSON(w, http.StatusBadRequest, FailWith(ResultError, ve.Error(), map[string]any{
			"field": ve.Field,
		}))
	case errors.Is(err, mutation.ErrSessionExpired), errors.Is(err, backend.ErrUnauthorized):
		writeJSON(w, http.StatusUnauthorized, FailWith(ResultTokenExpired, "session expired", nil))
	case errors.Is(err, service.ErrUnknownResource):
		writeJSON(w, http.StatusNotFound, Fail(err.Error()))
	case errors.As(err, &re):
		writeJSON(w, http.StatusBadGateway, FailWith(ResultError, re.Error(), map[string]any{
			"kind":      re.Kind,
			"status":    re.Status,
			"retryable": re.Retryable(),
		}))
	case errors.As(err, &be):
		writeJSON(w, http.StatusBadGateway, FailWith(ResultError, be.Error(), map[string]any{
			"kind":      be.Kind,
			"status":    be.Status,
			"retryable": true,
		}))
	default:
		h.logger.Error("Unhandled request error",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		writeJSON(w, http.StatusInternalServerError, Fail("internal error"))
	}
}
