package web

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vadiminshakov/lendpool/internal/domain"
)

var errFaucetDisabled = errors.New("faucet is only available with simulated custody")

func (s *Server) listBanks(w http.ResponseWriter, r *http.Request) {
	banks, err := s.ledger.Banks(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, banks)
}

func (s *Server) createBank(w http.ResponseWriter, r *http.Request) {
	var req createBankRequest
	if !s.decode(w, r, &req) {
		return
	}
	cfg, err := req.config()
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	bank, err := s.ledger.CreateBank(r.Context(), cfg)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, bank)
}

func (s *Server) getBank(w http.ResponseWriter, r *http.Request) {
	asset, err := domain.ParseAssetKind(chi.URLParam(r, "asset"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	bank, err := s.ledger.Bank(r.Context(), asset)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, bank)
}

func (s *Server) createUser(w http.ResponseWriter, r *http.Request) {
	var req ownerRequest
	if !s.decode(w, r, &req) {
		return
	}
	user, err := s.ledger.CreateUser(r.Context(), domain.AccountID(req.Owner))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

func (s *Server) getUser(w http.ResponseWriter, r *http.Request) {
	view, err := s.ledger.Position(r.Context(), domain.AccountID(chi.URLParam(r, "owner")))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newPositionResponse(view))
}

func (s *Server) getHealth(w http.ResponseWriter, r *http.Request) {
	report, err := s.ledger.HealthFactor(r.Context(), domain.AccountID(chi.URLParam(r, "owner")))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newHealthResponse(report))
}

func (s *Server) deposit(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	if !s.decode(w, r, &req) {
		return
	}
	asset, err := domain.ParseAssetKind(req.Asset)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.ledger.Deposit(r.Context(), domain.AccountID(req.Owner), asset, req.Amount)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newResultResponse(res))
}

func (s *Server) borrow(w http.ResponseWriter, r *http.Request) {
	var req borrowRequest
	if !s.decode(w, r, &req) {
		return
	}
	collateral, err := domain.ParseAssetKind(req.Collateral)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	asset, err := domain.ParseAssetKind(req.Asset)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	value, err := decimal.NewFromString(req.Value)
	if err != nil {
		s.writeError(w, r, errors.Wrapf(domain.ErrInvalidAmount, "value %q is not a decimal", req.Value))
		return
	}

	res, err := s.ledger.Borrow(r.Context(), domain.AccountID(req.Owner), collateral, asset, value)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newResultResponse(res))
}

func (s *Server) repay(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	if !s.decode(w, r, &req) {
		return
	}
	asset, err := domain.ParseAssetKind(req.Asset)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.ledger.Repay(r.Context(), domain.AccountID(req.Owner), asset, req.Amount)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newResultResponse(res))
}

func (s *Server) withdraw(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	if !s.decode(w, r, &req) {
		return
	}
	asset, err := domain.ParseAssetKind(req.Asset)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.ledger.Withdraw(r.Context(), domain.AccountID(req.Owner), asset, req.Amount)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newResultResponse(res))
}

func (s *Server) fund(w http.ResponseWriter, r *http.Request) {
	if s.faucet == nil {
		writeJSONError(w, http.StatusNotFound, errFaucetDisabled)
		return
	}
	var req faucetRequest
	if !s.decode(w, r, &req) {
		return
	}
	asset, err := domain.ParseAssetKind(req.Asset)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	account := domain.AccountID(req.Account)
	if err := s.faucet.Fund(account, asset, req.Amount); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, faucetResponse{
		Account: account,
		Asset:   asset,
		Balance: s.faucet.Balance(account, asset),
	})
}

// decode reads a JSON body of at most requestLimit bytes into dst, answering the request on failure.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if r.Body == nil {
		writeJSONError(w, http.StatusBadRequest, errors.New("missing request body"))
		return false
	}
	defer r.Body.Close()

	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, requestLimit))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSONError(w, http.StatusRequestEntityTooLarge, errors.New("request body too large"))
			return false
		}
		writeJSONError(w, http.StatusBadRequest, errors.Wrap(err, "decode request"))
		return false
	}
	return true
}

// writeError answers with the status matching the error kind.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := domain.Kind(err)
	status := statusFor(kind)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			zap.String("path", r.URL.Path),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("kind", string(kind)),
			zap.Error(err))
	}
	writeJSONError(w, status, err, kind)
}

func statusFor(kind domain.ErrorKind) int {
	switch kind {
	case domain.ErrorKindValidation:
		return http.StatusBadRequest
	case domain.ErrorKindPolicy:
		return http.StatusConflict
	case domain.ErrorKindNotFound:
		return http.StatusNotFound
	case domain.ErrorKindCollaborator:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, errors.Wrap(err, "marshal response"))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(payload)
}

type errorResponse struct {
	Error string           `json:"error"`
	Kind  domain.ErrorKind `json:"kind,omitempty"`
}

func writeJSONError(w http.ResponseWriter, status int, err error, kind ...domain.ErrorKind) {
	message := strings.TrimSpace(err.Error())
	if message == "" {
		message = http.StatusText(status)
	}
	resp := errorResponse{Error: message}
	if len(kind) > 0 {
		resp.Kind = kind[0]
	}

	payload, _ := json.Marshal(resp)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(payload)
}
