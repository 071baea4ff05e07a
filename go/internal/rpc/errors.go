package rpc

import (
	"context"
	"errors"

	"connectrpc.com/connect"
	"github.com/mcdev12/trivia/go/internal/apperr"
)

var kindCodes = map[apperr.Kind]connect.Code{
	apperr.KindNotFound:            connect.CodeNotFound,
	apperr.KindConflict:            connect.CodeAlreadyExists,
	apperr.KindFull:                connect.CodeResourceExhausted,
	apperr.KindForbidden:           connect.CodePermissionDenied,
	apperr.KindLocked:              connect.CodeFailedPrecondition,
	apperr.KindUnavailable:         connect.CodeUnavailable,
	apperr.KindIncomplete:          connect.CodeDataLoss,
	apperr.KindInvalid:             connect.CodeInvalidArgument,
	apperr.KindSessionUnresolvable: connect.CodeNotFound,
}

// toConnectError maps an application error to a connect error.
func toConnectError(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, context.Canceled):
		return connect.NewError(connect.CodeCanceled, err)
	case errors.Is(err, context.DeadlineExceeded):
		return connect.NewError(connect.CodeDeadlineExceeded, err)
	}
	if code, ok := kindCodes[apperr.KindOf(err)]; ok {
		return connect.NewError(code, err)
	}
	return connect.NewError(connect.CodeInternal, err)
}

// fromConnectError maps a connect error back to the application sentinel
// so callers can use errors.Is on remote failures.
func fromConnectError(op string, err error) error {
	if err == nil {
		return nil
	}
	code := connect.CodeOf(err)
	msg := err.Error()
	var cerr *connect.Error
	if errors.As(err, &cerr) {
		msg = cerr.Message()
	}
	for kind, c := range kindCodes {
		if c == code && kind != apperr.KindSessionUnresolvable {
			return apperr.New(apperr.Sentinel(kind), "%s: %s", op, msg)
		}
	}
	return apperr.Unavailable(op, err)
}
