package rpc

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strconv"
	"strings"

	"safehands/crypto"
	"safehands/native/escrow"
)

const (
	codeEscrowInvalidParams      = -32021
	codeEscrowNotFound           = -32022
	codeEscrowForbidden          = -32023
	codeEscrowInvalidState       = -32024
	codeEscrowAlreadyApproved    = -32025
	codeEscrowDeadlineNotReached = -32026
	codeEscrowInvalidWinner      = -32027
	codeEscrowInvalidAmount      = -32028
	codeEscrowTransferFailed     = -32029
	codeEscrowInternal           = -32030
)

type escrowDepositParams struct {
	Client       string `json:"client"`
	Freelancer   string `json:"freelancer"`
	Arbiter      string `json:"arbiter,omitempty"`
	Asset        string `json:"asset"`
	Amount       string `json:"amount"`
	DeadlineDays uint64 `json:"deadlineDays"`
}

type escrowIDParams struct {
	ID uint64 `json:"id"`
}

type escrowActorParams struct {
	ID     uint64 `json:"id"`
	Caller string `json:"caller"`
}

type escrowResolveParams struct {
	ID     uint64 `json:"id"`
	Caller string `json:"caller"`
	Winner string `json:"winner"`
}

type escrowPartyParams struct {
	Party string `json:"party"`
}

type escrowEventsParams struct {
	ID uint64 `json:"id,omitempty"`
}

type balanceParams struct {
	Address string `json:"address"`
	Asset   string `json:"asset"`
}

type escrowJSON struct {
	ID                   uint64 `json:"id"`
	Client               string `json:"client"`
	Freelancer           string `json:"freelancer"`
	Arbiter              string `json:"arbiter"`
	Asset                string `json:"asset"`
	Amount               string `json:"amount"`
	ApprovedByClient     bool   `json:"approvedByClient"`
	ApprovedByFreelancer bool   `json:"approvedByFreelancer"`
	Deadline             int64  `json:"deadline"`
	CreatedAt            int64  `json:"createdAt"`
	State                string `json:"state"`
}

type balanceResult struct {
	Address string `json:"address"`
	Asset   string `json:"asset"`
	Balance string `json:"balance"`
}

type eventJSON struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}

func formatEscrowJSON(e *escrow.Escrow) escrowJSON {
	amount := "0"
	if e.Amount != nil {
		amount = e.Amount.String()
	}
	return escrowJSON{
		ID:                   e.ID,
		Client:               crypto.NewAddress(e.Client[:]).String(),
		Freelancer:           crypto.NewAddress(e.Freelancer[:]).String(),
		Arbiter:              crypto.NewAddress(e.Arbiter[:]).String(),
		Asset:                e.Asset,
		Amount:               amount,
		ApprovedByClient:     e.ApprovedByClient,
		ApprovedByFreelancer: e.ApprovedByFreelancer,
		Deadline:             e.Deadline,
		CreatedAt:            e.CreatedAt,
		State:                e.State.String(),
	}
}

func parseBech32Address(addr string) ([20]byte, error) {
	trimmed := strings.TrimSpace(addr)
	if trimmed == "" {
		return [20]byte{}, fmt.Errorf("address required")
	}
	decoded, err := crypto.DecodeAddress(trimmed)
	if err != nil {
		return [20]byte{}, err
	}
	return decoded.Raw(), nil
}

func parsePositiveBigInt(value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, fmt.Errorf("amount required")
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount")
	}
	if amount.Sign() <= 0 {
		return nil, fmt.Errorf("amount must be positive")
	}
	return amount, nil
}

func decodeSingleParam(req *RPCRequest, out interface{}) error {
	if len(req.Params) != 1 {
		return fmt.Errorf("exactly one parameter object expected")
	}
	return json.Unmarshal(req.Params[0], out)
}

func writeEscrowError(w http.ResponseWriter, id interface{}, err error) {
	if err == nil {
		return
	}
	status := http.StatusInternalServerError
	code := codeEscrowInternal
	message := "internal_error"
	switch {
	case errors.Is(err, escrow.ErrNotFound):
		status = http.StatusNotFound
		code = codeEscrowNotFound
		message = "not_found"
	case errors.Is(err, escrow.ErrUnauthorized):
		status = http.StatusForbidden
		code = codeEscrowForbidden
		message = "forbidden"
	case errors.Is(err, escrow.ErrAlreadyApproved):
		status = http.StatusConflict
		code = codeEscrowAlreadyApproved
		message = "already_approved"
	case errors.Is(err, escrow.ErrInvalidState):
		status = http.StatusConflict
		code = codeEscrowInvalidState
		message = "invalid_state"
	case errors.Is(err, escrow.ErrDeadlineNotReached):
		status = http.StatusConflict
		code = codeEscrowDeadlineNotReached
		message = "deadline_not_reached"
	case errors.Is(err, escrow.ErrInvalidWinner):
		status = http.StatusBadRequest
		code = codeEscrowInvalidWinner
		message = "invalid_winner"
	case errors.Is(err, escrow.ErrInvalidAmount):
		status = http.StatusBadRequest
		code = codeEscrowInvalidAmount
		message = "invalid_amount"
	case errors.Is(err, escrow.ErrTransferFailed):
		status = http.StatusConflict
		code = codeEscrowTransferFailed
		message = "transfer_failed"
	}
	writeError(w, status, id, code, message, err.Error())
}

func (s *Server) handleEscrowDeposit(w http.ResponseWriter, req *RPCRequest) string {
	var params escrowDepositParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return "invalid_params"
	}
	client, err := parseBech32Address(params.Client)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return "invalid_params"
	}
	freelancer, err := parseBech32Address(params.Freelancer)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return "invalid_params"
	}
	var arbiter [20]byte
	if strings.TrimSpace(params.Arbiter) != "" {
		arbiter, err = parseBech32Address(params.Arbiter)
		if err != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
			return "invalid_params"
		}
	}
	asset, err := escrow.NormalizeAsset(params.Asset)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return "invalid_params"
	}
	amount, err := parsePositiveBigInt(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return "invalid_params"
	}
	if params.DeadlineDays > escrow.MaxDeadlineDays {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params",
			fmt.Sprintf("deadlineDays must not exceed %d", escrow.MaxDeadlineDays))
		return "invalid_params"
	}
	esc, err := s.node.EscrowDeposit(client, freelancer, arbiter, asset, amount, params.DeadlineDays)
	if err != nil {
		writeEscrowError(w, req.ID, err)
		return "error"
	}
	writeResult(w, req.ID, formatEscrowJSON(esc))
	return "ok"
}

func (s *Server) handleEscrowApprove(w http.ResponseWriter, req *RPCRequest) string {
	return s.handleEscrowTransition(w, req, s.node.EscrowApprove)
}

func (s *Server) handleEscrowCancel(w http.ResponseWriter, req *RPCRequest) string {
	return s.handleEscrowTransition(w, req, s.node.EscrowCancel)
}

func (s *Server) handleEscrowDispute(w http.ResponseWriter, req *RPCRequest) string {
	return s.handleEscrowTransition(w, req, s.node.EscrowDispute)
}

func (s *Server) handleEscrowClaimTimeout(w http.ResponseWriter, req *RPCRequest) string {
	return s.handleEscrowTransition(w, req, s.node.EscrowClaimTimeout)
}

func (s *Server) handleEscrowTransition(w http.ResponseWriter, req *RPCRequest, fn func([20]byte, uint64) error) string {
	var params escrowActorParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return "invalid_params"
	}
	caller, err := parseBech32Address(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return "invalid_params"
	}
	if err := fn(caller, params.ID); err != nil {
		writeEscrowError(w, req.ID, err)
		return "error"
	}
	esc, err := s.node.EscrowGet(params.ID)
	if err != nil {
		writeEscrowError(w, req.ID, err)
		return "error"
	}
	writeResult(w, req.ID, formatEscrowJSON(esc))
	return "ok"
}

func (s *Server) handleEscrowResolve(w http.ResponseWriter, req *RPCRequest) string {
	var params escrowResolveParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return "invalid_params"
	}
	caller, err := parseBech32Address(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return "invalid_params"
	}
	winner, err := parseBech32Address(params.Winner)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return "invalid_params"
	}
	if err := s.node.EscrowResolve(caller, params.ID, winner); err != nil {
		writeEscrowError(w, req.ID, err)
		return "error"
	}
	esc, err := s.node.EscrowGet(params.ID)
	if err != nil {
		writeEscrowError(w, req.ID, err)
		return "error"
	}
	writeResult(w, req.ID, formatEscrowJSON(esc))
	return "ok"
}

func (s *Server) handleEscrowGet(w http.ResponseWriter, req *RPCRequest) string {
	var params escrowIDParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return "invalid_params"
	}
	esc, err := s.node.EscrowGet(params.ID)
	if err != nil {
		writeEscrowError(w, req.ID, err)
		return "error"
	}
	writeResult(w, req.ID, formatEscrowJSON(esc))
	return "ok"
}

func (s *Server) handleEscrowListByParty(w http.ResponseWriter, req *RPCRequest) string {
	var params escrowPartyParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return "invalid_params"
	}
	party, err := parseBech32Address(params.Party)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return "invalid_params"
	}
	ids, err := s.node.EscrowIDsForParty(party)
	if err != nil {
		writeEscrowError(w, req.ID, err)
		return "error"
	}
	escrows := make([]escrowJSON, 0, len(ids))
	for _, id := range ids {
		esc, getErr := s.node.EscrowGet(id)
		if getErr != nil {
			writeEscrowError(w, req.ID, getErr)
			return "error"
		}
		escrows = append(escrows, formatEscrowJSON(esc))
	}
	writeResult(w, req.ID, escrows)
	return "ok"
}

func (s *Server) handleEscrowListEvents(w http.ResponseWriter, req *RPCRequest) string {
	var params escrowEventsParams
	if len(req.Params) > 0 {
		if err := decodeSingleParam(req, &params); err != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
			return "invalid_params"
		}
	}
	events := s.node.Events()
	filtered := make([]eventJSON, 0, len(events))
	wantID := strconv.FormatUint(params.ID, 10)
	for _, evt := range events {
		if params.ID != 0 && evt.Attributes["id"] != wantID {
			continue
		}
		filtered = append(filtered, eventJSON{Type: evt.Type, Attributes: evt.Attributes})
	}
	writeResult(w, req.ID, filtered)
	return "ok"
}

func (s *Server) handleGetBalance(w http.ResponseWriter, req *RPCRequest) string {
	var params balanceParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return "invalid_params"
	}
	addr, err := parseBech32Address(params.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return "invalid_params"
	}
	asset, err := escrow.NormalizeAsset(params.Asset)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return "invalid_params"
	}
	account, err := s.node.GetAccount(addr[:])
	if err != nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, "failed to load account", err.Error())
		return "error"
	}
	writeResult(w, req.ID, balanceResult{
		Address: params.Address,
		Asset:   asset,
		Balance: account.Balance(asset).String(),
	})
	return "ok"
}
