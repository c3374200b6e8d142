package binance

import (
	"errors"
	"fmt"
	"strings"

	"github.com/adshao/go-binance/v2/common"

	"futures-bot/internal/core"
)

const (
	apiCodePrecisionOverMax    = -1111
	apiCodeBadSymbol           = -1121
	apiCodeNewOrderRejected    = -2010
	apiCodeCancelRejected      = -2011
	apiCodeOrderNotFound       = -2013
	apiCodeMarginInsufficient  = -2019
	apiCodeDuplicateClientID   = -4015
	apiCodeNotionalTooSmall    = -4164
	apiCodeQuantityLessOrEqual = -4003
)

var apiErrorMessageKinds = map[string]error{
	"duplicate order sent.":                                  core.ErrDuplicateOrder,
	"account has insufficient balance for requested action.": core.ErrInsufficientBalance,
	"margin is insufficient.":                                core.ErrInsufficientBalance,
	"unknown order sent.":                                    core.ErrOrderNotFound,
	"order does not exist.":                                  core.ErrOrderNotFound,
	"order was canceled or expired.":                         core.ErrOrderExpired,
	"invalid symbol.":                                        core.ErrInvalidSymbol,
}

var apiErrorCodeKinds = map[int64]error{
	apiCodePrecisionOverMax:    core.ErrPrecision,
	apiCodeBadSymbol:           core.ErrInvalidSymbol,
	apiCodeCancelRejected:      core.ErrOrderNotFound,
	apiCodeOrderNotFound:       core.ErrOrderNotFound,
	apiCodeMarginInsufficient:  core.ErrInsufficientBalance,
	apiCodeDuplicateClientID:   core.ErrDuplicateOrder,
	apiCodeNotionalTooSmall:    core.ErrBelowMinNotional,
	apiCodeQuantityLessOrEqual: core.ErrQtyZero,
}

// wrapAPIError keeps the SDK error reachable through errors.As and wraps the
// matching core sentinels so callers can branch with errors.Is. The result
// reads as one line: "<api error> (<kind>, <kind>)".
func wrapAPIError(err error) error {
	if err == nil {
		return nil
	}
	apiErr, ok := AsAPIError(err)
	if !ok {
		return err
	}
	kinds := classifyAPIErrorKinds(apiErr)
	if len(kinds) == 0 {
		return err
	}
	args := make([]any, 0, 1+len(kinds))
	args = append(args, err)
	for _, kind := range kinds {
		args = append(args, kind)
	}
	format := "%w (" + strings.TrimSuffix(strings.Repeat("%w, ", len(kinds)), ", ") + ")"
	return fmt.Errorf(format, args...)
}

func classifyAPIErrorKinds(apiErr *common.APIError) []error {
	kinds := make([]error, 0, 2)
	normalizedMsg := normalizeAPIErrorMsg(apiErr.Message)

	if kind, ok := apiErrorCodeKinds[apiErr.Code]; ok {
		kinds = appendErrorKind(kinds, kind)
	}
	if apiErr.Code == apiCodeNewOrderRejected {
		if kind, ok := apiErrorMessageKinds[normalizedMsg]; ok {
			kinds = appendErrorKind(kinds, kind)
		} else {
			kinds = appendErrorKind(kinds, core.ErrOrderRejected)
		}
	}
	if kind, ok := apiErrorMessageKinds[normalizedMsg]; ok {
		kinds = appendErrorKind(kinds, kind)
	}
	return kinds
}

func appendErrorKind(kinds []error, kind error) []error {
	if kind == nil {
		return kinds
	}
	for _, existing := range kinds {
		if existing == kind {
			return kinds
		}
	}
	return append(kinds, kind)
}

func normalizeAPIErrorMsg(msg string) string {
	return strings.ToLower(strings.TrimSpace(msg))
}

func AsAPIError(err error) (*common.APIError, bool) {
	if err == nil {
		return nil, false
	}
	var apiErr *common.APIError
	if !errors.As(err, &apiErr) || apiErr == nil {
		return nil, false
	}
	return apiErr, true
}

func IsAPIErrorCode(err error, codes ...int64) bool {
	apiErr, ok := AsAPIError(err)
	if !ok {
		return false
	}
	for _, code := range codes {
		if apiErr.Code == code {
			return true
		}
	}
	return false
}
