package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/iurnickita/cropchain/internal/auth"
	"github.com/iurnickita/cropchain/internal/gzip"
	"github.com/iurnickita/cropchain/internal/handler/config"
	"github.com/iurnickita/cropchain/internal/logger"
	"github.com/iurnickita/cropchain/internal/model"
	"github.com/iurnickita/cropchain/internal/service"
)

// Serve обслуживает HTTP до отмены ctx, затем корректно останавливает сервер.
func Serve(ctx context.Context, cfg config.Config, auth auth.Auth, service service.Service, zaplog *zap.Logger) error {
	h := newHandler(auth, service, zaplog)
	router := h.newRouter()

	srv := &http.Server{
		Addr:    cfg.ServerAddr,
		Handler: router,
	}

	errc := make(chan error, 1)
	go func() {
		zaplog.Info("server started", zap.String("addr", cfg.ServerAddr))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	zaplog.Info("server shutting down")
	return srv.Shutdown(shutdownCtx)
}

type handler struct {
	auth    auth.Auth
	service service.Service
	zaplog  *zap.Logger
}

func newHandler(auth auth.Auth, service service.Service, zaplog *zap.Logger) *handler {
	return &handler{
		auth:    auth,
		service: service,
		zaplog:  zaplog,
	}
}

func (h *handler) newRouter() *http.ServeMux {
	mux := http.NewServeMux()
	handle := func(pattern string, f http.HandlerFunc) {
		mux.HandleFunc(pattern, gzip.GzipMiddleware(logger.RequestLogMdlw(f, h.zaplog)))
	}

	// выбор роли и кошелек
	handle("GET /api/roles", h.auth.Roles)
	handle("POST /api/session/{role}", h.auth.SelectRole)
	handle("DELETE /api/session", h.auth.Leave)
	handle("POST /api/wallet/connect", h.PostWalletConnect)

	// партии урожая
	handle("GET /api/crops", h.auth.Middleware(h.GetCrops))
	handle("POST /api/crops", h.auth.Middleware(h.PostCrop, model.RoleFarmer))
	handle("GET /api/crops/export", h.auth.Middleware(h.GetExport))
	handle("POST /api/crops/import", h.auth.Middleware(h.PostImport, model.RoleFarmer))
	handle("GET /api/crops/lot/{lot}", h.auth.Middleware(h.GetCropByLot))
	handle("GET /api/crops/{id}", h.auth.Middleware(h.GetCrop))
	handle("POST /api/crops/{id}/transporter", h.auth.Middleware(h.PostTransporter, model.RoleTransporter))
	handle("POST /api/crops/{id}/retailer", h.auth.Middleware(h.PostRetailer, model.RoleRetailer))
	handle("POST /api/crops/{id}/pay", h.auth.Middleware(h.PostPay, model.RoleConsumer))

	return mux
}

// JSON-представление партии
type CropJSONResponse struct {
	model.CropRecord
	Lot        int    `json:"lot"`
	Stage      string `json:"stage"`
	TotalPrice string `json:"totalPrice,omitempty"`
}

func cropResponse(rec model.CropRecord) CropJSONResponse {
	resp := CropJSONResponse{
		CropRecord: rec,
		Lot:        rec.LotNumber(),
		Stage:      string(rec.Stage()),
	}
	if total, ok := rec.TotalPrice(); ok {
		resp.TotalPrice = total.StringFixed(2)
	}
	return resp
}

func (h *handler) GetCrops(w http.ResponseWriter, r *http.Request) {
	session, _ := auth.Session(r.Context())

	recs, err := h.service.ListCrops(r.Context(), session.Role)
	if err != nil {
		h.serviceError(w, err)
		return
	}
	if len(recs) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	cropsJSON := make([]CropJSONResponse, 0, len(recs))
	for _, rec := range recs {
		cropsJSON = append(cropsJSON, cropResponse(rec))
	}
	writeJSON(w, http.StatusOK, cropsJSON)
}

func (h *handler) PostCrop(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	_, err := buf.ReadFrom(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var input service.CropInput
	err = json.Unmarshal(buf.Bytes(), &input)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	rec, err := h.service.CreateCrop(r.Context(), input)
	if err != nil {
		h.serviceError(w, err)
		return
	}
	w.Header().Set("ETag", etag(rec.Version))
	writeJSON(w, http.StatusCreated, cropResponse(rec))
}

func (h *handler) GetCrop(w http.ResponseWriter, r *http.Request) {
	rec, err := h.service.GetCrop(r.Context(), r.PathValue("id"))
	if err != nil {
		h.serviceError(w, err)
		return
	}
	h.writeCrop(w, rec)
}

func (h *handler) GetCropByLot(w http.ResponseWriter, r *http.Request) {
	lot, err := strconv.Atoi(r.PathValue("lot"))
	if err != nil {
		http.Error(w, "lot must be a number", http.StatusBadRequest)
		return
	}
	rec, err := h.service.GetCropByLot(r.Context(), lot)
	if err != nil {
		h.serviceError(w, err)
		return
	}
	h.writeCrop(w, rec)
}

func (h *handler) PostTransporter(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, func(ctx context.Context, id string, version int) (model.CropRecord, error) {
		return h.service.ToggleTransporter(ctx, id, version)
	})
}

func (h *handler) PostRetailer(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, func(ctx context.Context, id string, version int) (model.CropRecord, error) {
		return h.service.ToggleRetailer(ctx, id, version)
	})
}

func (h *handler) PostPay(w http.ResponseWriter, r *http.Request) {
	session, _ := auth.Session(r.Context())
	h.mutate(w, r, func(ctx context.Context, id string, version int) (model.CropRecord, error) {
		return h.service.Pay(ctx, id, session.Name, version)
	})
}

func (h *handler) mutate(w http.ResponseWriter, r *http.Request, action func(ctx context.Context, id string, version int) (model.CropRecord, error)) {
	version, err := ifMatch(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	rec, err := action(r.Context(), r.PathValue("id"), version)
	if err != nil {
		h.serviceError(w, err)
		return
	}
	h.writeCrop(w, rec)
}

func (h *handler) writeCrop(w http.ResponseWriter, rec model.CropRecord) {
	w.Header().Set("ETag", etag(rec.Version))
	writeJSON(w, http.StatusOK, cropResponse(rec))
}

func (h *handler) GetExport(w http.ResponseWriter, r *http.Request) {
	document, err := h.service.Export(r.Context())
	if err != nil {
		h.serviceError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", `attachment; filename="crops.json"`)
	w.Write(document)
}

type ImportJSONResponse struct {
	service.ImportResult
	Partial bool   `json:"partial,omitempty"`
	Error   string `json:"error,omitempty"`
}

func (h *handler) PostImport(w http.ResponseWriter, r *http.Request) {
	document, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	result, err := h.service.Import(r.Context(), document)
	if err != nil {
		if result.Imported == 0 {
			h.serviceError(w, err)
			return
		}
		// часть партий уже записана
		h.zaplog.Error("import interrupted", zap.Int("imported", result.Imported), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ImportJSONResponse{ImportResult: result, Partial: true, Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, ImportJSONResponse{ImportResult: result})
}

type WalletJSONResponse struct {
	Account string `json:"account,omitempty"`
	Error   string `json:"error,omitempty"`
}

func (h *handler) PostWalletConnect(w http.ResponseWriter, r *http.Request) {
	account, err := h.service.ConnectWallet(r.Context())
	if err != nil {
		if errors.Is(err, service.ErrWalletNotDetected) {
			writeJSON(w, http.StatusServiceUnavailable, WalletJSONResponse{Error: "wallet not detected"})
			return
		}
		writeJSON(w, http.StatusBadGateway, WalletJSONResponse{Error: "failed to connect to wallet, please try again"})
		return
	}
	writeJSON(w, http.StatusOK, WalletJSONResponse{Account: account})
}

func (h *handler) serviceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrInsufficientData), errors.Is(err, service.ErrUnknownRole):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, service.ErrUnprocessableEntity):
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
	case errors.Is(err, service.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, service.ErrOutOfOrder):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, service.ErrConflict):
		http.Error(w, err.Error(), http.StatusPreconditionFailed)
	default:
		h.zaplog.Error("request failed", zap.Error(err))
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	responseJSON, err := json.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(responseJSON)
}

func etag(version int) string {
	return `"` + strconv.Itoa(version) + `"`
}

// ifMatch возвращает ожидаемую версию из If-Match, 0 - если заголовка нет.
func ifMatch(r *http.Request) (int, error) {
	value := strings.TrimSpace(r.Header.Get("If-Match"))
	if value == "" || value == "*" {
		return 0, nil
	}
	value = strings.TrimPrefix(value, "W/")
	version, err := strconv.Atoi(strings.Trim(value, `"`))
	if err != nil || version <= 0 {
		return 0, errors.New("If-Match must carry a record version")
	}
	return version, nil
}
