package http

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"fiatmesh/internal/models"
	"fiatmesh/internal/services"
	"fiatmesh/internal/store"

	"github.com/go-chi/chi/v5"
)

type Handler struct {
	Orders     *services.OrderService
	Validation *services.ValidationEngine
	Settlement *services.SettlementService
	Admin      *services.AdminService
}

func NewHandler(orders *services.OrderService, validation *services.ValidationEngine,
	settlement *services.SettlementService, admin *services.AdminService) *Handler {
	return &Handler{Orders: orders, Validation: validation, Settlement: settlement, Admin: admin}
}

type createOrderRequest struct {
	Type             string `json:"type"`
	RequesterAddress string `json:"requesterAddress"`
	AmountUsdcCents  int64  `json:"amountUsdcCents"`
	FiatCurrency     string `json:"fiatCurrency"`
	PaymentMethod    string `json:"paymentMethod"`
	PaymentDetails   string `json:"paymentDetails"`
}

type orderResponse struct {
	ID                  string `json:"orderId"`
	Type                string `json:"type"`
	Status              string `json:"status"`
	RequesterID         string `json:"requesterId"`
	RequesterAddress    string `json:"requesterAddress"`
	CounterpartyID      string `json:"counterpartyId,omitempty"`
	CounterpartyAddress string `json:"counterpartyAddress,omitempty"`
	AmountUsdcCents     int64  `json:"amountUsdcCents"`
	AmountFiatCents     int64  `json:"amountFiatCents"`
	FiatCurrency        string `json:"fiatCurrency"`
	PaymentMethod       string `json:"paymentMethod,omitempty"`
	EscrowAddress       string `json:"escrowAddress,omitempty"`
	CreatedAt           string `json:"createdAt"`
	ExpiresAt           string `json:"expiresAt"`
	CompletedAt         string `json:"completedAt,omitempty"`
	SettledAt           string `json:"settledAt,omitempty"`
	DisputePeriodEndsAt string `json:"disputePeriodEndsAt,omitempty"`
	MeetingRef          string `json:"meetingRef,omitempty"`
	MeetingAt           string `json:"meetingAt,omitempty"`
}

func toOrderResponse(o *models.Order) orderResponse {
	resp := orderResponse{
		ID:               o.ID,
		Type:             string(o.Type),
		Status:           string(o.Status),
		RequesterID:      o.RequesterID,
		RequesterAddress: o.RequesterAddress,
		AmountUsdcCents:  o.AmountUsdcCents,
		AmountFiatCents:  o.AmountFiatCents,
		FiatCurrency:     o.FiatCurrency,
		PaymentMethod:    o.PaymentMethod,
		EscrowAddress:    o.EscrowAddress,
		MeetingRef:       o.MeetingRef,
		CreatedAt:        o.CreatedAt.Format(time.RFC3339),
		ExpiresAt:        o.ExpiresAt.Format(time.RFC3339),
	}
	if o.CounterpartyID != nil {
		resp.CounterpartyID = *o.CounterpartyID
	}
	if o.CounterpartyAddress != nil {
		resp.CounterpartyAddress = *o.CounterpartyAddress
	}
	if o.CompletedAt != nil {
		resp.CompletedAt = o.CompletedAt.Format(time.RFC3339)
	}
	if o.SettledAt != nil {
		resp.SettledAt = o.SettledAt.Format(time.RFC3339)
	}
	if o.DisputePeriodEndsAt != nil {
		resp.DisputePeriodEndsAt = o.DisputePeriodEndsAt.Format(time.RFC3339)
	}
	if o.MeetingAt != nil {
		resp.MeetingAt = o.MeetingAt.Format(time.RFC3339)
	}
	return resp
}

func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	userID := r.Header.Get("X-User-Id")
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "missing user id")
		return
	}

	order, err := h.Orders.Create(r.Context(), services.CreateOrderInput{
		Type:             models.OrderType(req.Type),
		RequesterID:      userID,
		RequesterAddress: req.RequesterAddress,
		AmountUsdcCents:  req.AmountUsdcCents,
		FiatCurrency:     req.FiatCurrency,
		PaymentMethod:    req.PaymentMethod,
		PaymentDetails:   req.PaymentDetails,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(order))
}

func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	filter := store.OrderFilter{
		Status: models.OrderStatus(r.URL.Query().Get("status")),
		Type:   models.OrderType(r.URL.Query().Get("type")),
		UserID: r.URL.Query().Get("user"),
	}
	orders, err := h.Orders.List(r.Context(), filter)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	out := make([]orderResponse, 0, len(orders))
	for _, o := range orders {
		out = append(out, toOrderResponse(o))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.Orders.Get(r.Context(), chi.URLParam(r, "orderId"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(order))
}

func (h *Handler) MatchOrder(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CounterpartyAddress string `json:"counterpartyAddress"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	order, err := h.Orders.Match(r.Context(), chi.URLParam(r, "orderId"),
		r.Header.Get("X-User-Id"), req.CounterpartyAddress)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(order))
}

func (h *Handler) ReleaseOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.Orders.Release(r.Context(), chi.URLParam(r, "orderId"), r.Header.Get("X-User-Id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(order))
}

type proofRequest struct {
	ProofBase64 string `json:"proofBase64"`
}

func decodeProof(r *http.Request) ([]byte, bool) {
	var req proofRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, false
	}
	proof, err := base64.StdEncoding.DecodeString(req.ProofBase64)
	if err != nil {
		return nil, false
	}
	return proof, true
}

func (h *Handler) AttachQR(w http.ResponseWriter, r *http.Request) {
	proof, ok := decodeProof(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid proof payload")
		return
	}
	order, err := h.Orders.AttachDestinationProof(r.Context(), chi.URLParam(r, "orderId"),
		r.Header.Get("X-User-Id"), proof)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(order))
}

func (h *Handler) PaymentSent(w http.ResponseWriter, r *http.Request) {
	proof, ok := decodeProof(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid proof payload")
		return
	}
	order, err := h.Orders.ReportPayment(r.Context(), chi.URLParam(r, "orderId"),
		r.Header.Get("X-User-Id"), proof)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(order))
}

func (h *Handler) DisputeOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.Orders.Dispute(r.Context(), chi.URLParam(r, "orderId"), r.Header.Get("X-User-Id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(order))
}

func (h *Handler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.Orders.Cancel(r.Context(), chi.URLParam(r, "orderId"), r.Header.Get("X-User-Id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(order))
}

type validatorResponse struct {
	Address          string `json:"address"`
	TotalReviews     int64  `json:"totalReviews"`
	TotalEarnedCents int64  `json:"totalEarnedCents"`
	Approvals        int64  `json:"approvals"`
	Flags            int64  `json:"flags"`
	Accuracy         int    `json:"accuracy"`
	StakedCents      int64  `json:"stakedCents"`
	LockedCents      int64  `json:"lockedCents"`
	IsSlashed        bool   `json:"isSlashed"`
	IsActive         bool   `json:"isActive"`
}

func toValidatorResponse(v *models.ValidatorProfile) validatorResponse {
	return validatorResponse{
		Address:          v.Address,
		TotalReviews:     v.TotalReviews,
		TotalEarnedCents: v.TotalEarnedCents,
		Approvals:        v.Approvals,
		Flags:            v.Flags,
		Accuracy:         v.Accuracy,
		StakedCents:      v.StakedCents,
		LockedCents:      v.LockedCents,
		IsSlashed:        v.IsSlashed,
		IsActive:         v.IsActive,
	}
}

func (h *Handler) RegisterValidator(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Address     string `json:"address"`
		StakedCents int64  `json:"stakedCents"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	profile, err := h.Validation.RegisterValidator(r.Context(), services.RegisterValidatorInput{
		Address:     req.Address,
		StakedCents: req.StakedCents,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toValidatorResponse(profile))
}

func (h *Handler) GetValidator(w http.ResponseWriter, r *http.Request) {
	profile, err := h.Validation.GetValidator(r.Context(), chi.URLParam(r, "address"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toValidatorResponse(profile))
}

type taskResponse struct {
	ID         int64                   `json:"taskId"`
	OrderID    string                  `json:"orderId"`
	Status     string                  `json:"status"`
	Evidence   models.TaskEvidence     `json:"evidence"`
	Votes      []models.ValidationVote `json:"votes"`
	Threshold  int                     `json:"threshold"`
	CreatedAt  string                  `json:"createdAt"`
	Deadline   string                  `json:"deadline"`
	ResolvedAt string                  `json:"resolvedAt,omitempty"`
	ResolvedBy string                  `json:"resolvedBy,omitempty"`
}

func toTaskResponse(t *models.ValidationTask) taskResponse {
	resp := taskResponse{
		ID:         t.ID,
		OrderID:    t.OrderID,
		Status:     string(t.Status),
		Evidence:   t.Evidence,
		Votes:      t.Votes,
		Threshold:  t.Threshold,
		CreatedAt:  t.CreatedAt.Format(time.RFC3339),
		Deadline:   t.Deadline.Format(time.RFC3339),
		ResolvedBy: t.ResolvedBy,
	}
	if t.ResolvedAt != nil {
		resp.ResolvedAt = t.ResolvedAt.Format(time.RFC3339)
	}
	return resp
}

func (h *Handler) ListTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := h.Validation.ListTasks(r.Context(), store.TaskFilter{
		Status:  models.TaskStatus(r.URL.Query().Get("status")),
		OrderID: r.URL.Query().Get("orderId"),
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	out := make([]taskResponse, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, toTaskResponse(t))
	}
	writeJSON(w, http.StatusOK, out)
}

func taskIDParam(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "taskId"), 10, 64)
	return id, err == nil
}

func (h *Handler) GetTask(w http.ResponseWriter, r *http.Request) {
	taskID, ok := taskIDParam(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid task id")
		return
	}
	task, err := h.Validation.GetTask(r.Context(), taskID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTaskResponse(task))
}

func (h *Handler) SubmitVote(w http.ResponseWriter, r *http.Request) {
	taskID, ok := taskIDParam(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid task id")
		return
	}
	var req struct {
		ValidatorAddress string `json:"validatorAddress"`
		Decision         string `json:"decision"`
		Notes            string `json:"notes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	task, err := h.Validation.SubmitVote(r.Context(), services.SubmitVoteInput{
		TaskID:           taskID,
		ValidatorAddress: req.ValidatorAddress,
		Decision:         models.VoteDecision(req.Decision),
		Notes:            req.Notes,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTaskResponse(task))
}

func (h *Handler) AdminResolveDispute(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Resolution string `json:"resolution"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	order, err := h.Admin.ResolveDispute(r.Context(), r.Header.Get("X-Admin-Address"),
		chi.URLParam(r, "orderId"), req.Resolution)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(order))
}

func (h *Handler) AdminResolveValidation(w http.ResponseWriter, r *http.Request) {
	taskID, ok := taskIDParam(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid task id")
		return
	}
	var req struct {
		Resolution string `json:"resolution"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	task, err := h.Admin.ResolveValidation(r.Context(), r.Header.Get("X-Admin-Address"),
		taskID, req.Resolution)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTaskResponse(task))
}

func (h *Handler) SettlementSweep(w http.ResponseWriter, r *http.Request) {
	if err := h.Admin.Authorize(r.Header.Get("X-Admin-Address")); err != nil {
		writeServiceError(w, err)
		return
	}
	settled, err := h.Settlement.Sweep(r.Context(), time.Now().UTC())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"settled": settled})
}

func (h *Handler) ForceSettle(w http.ResponseWriter, r *http.Request) {
	if err := h.Admin.Authorize(r.Header.Get("X-Admin-Address")); err != nil {
		writeServiceError(w, err)
		return
	}
	order, err := h.Settlement.ForceSettle(r.Context(), chi.URLParam(r, "orderId"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(order))
}
