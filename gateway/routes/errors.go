package routes

import (
	"encoding/json"
	"errors"
	"net/http"

	"usdengine/native/cdp"
	nativecommon "usdengine/native/common"
	"usdengine/native/oracle"
	"usdengine/native/token"
)

var (
	// errBadRequest marks request decoding and parameter failures.
	errBadRequest  = errors.New("bad request")
	errUnavailable = errors.New("service not configured")
	errForbidden   = errors.New("forbidden")
)

type errorBody struct {
	Error               string `json:"error"`
	Code                string `json:"code"`
	HealthFactor        string `json:"healthFactor,omitempty"`
	HealthFactorDisplay string `json:"healthFactorDisplay,omitempty"`
	Index               *int   `json:"index,omitempty"`
	Length              *int   `json:"length,omitempty"`
}

// toStatus maps engine errors onto an HTTP status and a stable error code.
func toStatus(err error) (int, string) {
	switch {
	case errors.Is(err, errBadRequest):
		return http.StatusBadRequest, "bad_request"
	case errors.Is(err, errUnauthenticated):
		return http.StatusUnauthorized, "unauthenticated"
	case errors.Is(err, errForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, errUnavailable):
		return http.StatusServiceUnavailable, "unavailable"
	case errors.Is(err, cdp.ErrBreaksHealthFactor):
		return http.StatusUnprocessableEntity, "breaks_health_factor"
	case errors.Is(err, cdp.ErrZeroPrice):
		return http.StatusUnprocessableEntity, "zero_price"
	case errors.Is(err, cdp.ErrInvalidAmount), errors.Is(err, cdp.ErrAmountOverflow), errors.Is(err, token.ErrInvalidAmount):
		return http.StatusBadRequest, "invalid_amount"
	case errors.Is(err, cdp.ErrUnsupportedAsset):
		return http.StatusBadRequest, "unsupported_asset"
	case errors.Is(err, cdp.ErrArrayLengthMismatch):
		return http.StatusBadRequest, "array_length_mismatch"
	case errors.Is(err, cdp.ErrInvalidThreshold):
		return http.StatusBadRequest, "invalid_threshold"
	case errors.Is(err, cdp.ErrNativeValueMismatch):
		return http.StatusBadRequest, "native_value_mismatch"
	case errors.Is(err, cdp.ErrUnknownFeed), errors.Is(err, oracle.ErrUnknownFeed):
		return http.StatusBadRequest, "unknown_feed"
	case errors.Is(err, oracle.ErrNegativePrice):
		return http.StatusBadRequest, "negative_price"
	case errors.Is(err, cdp.ErrIndexOutOfRange):
		return http.StatusNotFound, "index_out_of_range"
	case errors.Is(err, token.ErrUnknownToken):
		return http.StatusNotFound, "unknown_token"
	case errors.Is(err, cdp.ErrUnauthorized), errors.Is(err, oracle.ErrUnauthorized):
		return http.StatusForbidden, "unauthorized"
	case errors.Is(err, cdp.ErrEngineCaller):
		return http.StatusForbidden, "engine_caller"
	case errors.Is(err, cdp.ErrInsufficientBalance), errors.Is(err, token.ErrInsufficientBalance):
		return http.StatusConflict, "insufficient_balance"
	case errors.Is(err, token.ErrInsufficientAllowance):
		return http.StatusConflict, "insufficient_allowance"
	case errors.Is(err, cdp.ErrAlreadyInitialized):
		return http.StatusConflict, "already_initialized"
	case errors.Is(err, nativecommon.ErrModulePaused), errors.Is(err, token.ErrMintPaused):
		return http.StatusServiceUnavailable, "paused"
	case errors.Is(err, cdp.ErrNotInitialized), errors.Is(err, cdp.ErrNilState):
		return http.StatusServiceUnavailable, "not_initialized"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func writeError(w http.ResponseWriter, err error) {
	status, code := toStatus(err)
	body := errorBody{Error: err.Error(), Code: code}
	if status == http.StatusInternalServerError {
		body.Error = "internal error"
	}
	var hfErr *cdp.HealthFactorError
	if errors.As(err, &hfErr) && hfErr.HealthFactor != nil {
		body.HealthFactor = hfErr.HealthFactor.String()
		body.HealthFactorDisplay = cdp.FormatHealthFactor(hfErr.HealthFactor)
	}
	var idxErr *cdp.IndexOutOfRangeError
	if errors.As(err, &idxErr) {
		body.Index, body.Length = &idxErr.Index, &idxErr.Length
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
