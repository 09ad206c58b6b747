package classifier

import (
	"context"
	"errors"
	"net"
	"syscall"
	"time"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/Thirteen88/ish-automation-sub001/internal/core/domain"
)

type statusCoder interface {
	StatusCode() int
}

type errorCoder interface {
	ErrorCode() string
}

var errnoCodes = []struct {
	errno syscall.Errno
	code  string
}{
	{syscall.ECONNREFUSED, "ECONNREFUSED"},
	{syscall.ECONNRESET, "ECONNRESET"},
	{syscall.EHOSTUNREACH, "EHOSTUNREACH"},
	{syscall.ENETUNREACH, "ENETUNREACH"},
	{syscall.EPIPE, "EPIPE"},
	{syscall.ETIMEDOUT, "ETIMEDOUT"},
	{syscall.ENOMEM, "ENOMEM"},
	{syscall.ENOSPC, "ENOSPC"},
	{syscall.EMFILE, "EMFILE"},
}

// inspection is what the classifier learns from a raw error before matching.
type inspection struct {
	source domain.SourceError
	// timedOut is set for deadline and net timeouts, which always classify as timeout.
	timedOut bool
	// retryAfter is a server-advised delay, zero when absent.
	retryAfter time.Duration
}

func inspect(err error) inspection {
	in := inspection{source: domain.SourceError{Message: err.Error()}}

	var opErr *domain.OperationError
	if errors.As(err, &opErr) {
		in.source.Message = opErr.Message
		in.source.StatusCode = opErr.StatusCode
		in.source.Code = opErr.Code
	}

	var sc statusCoder
	if in.source.StatusCode == 0 && errors.As(err, &sc) {
		in.source.StatusCode = sc.StatusCode()
	}
	var ec errorCoder
	if in.source.Code == "" && errors.As(err, &ec) {
		in.source.Code = ec.ErrorCode()
	}

	if st, ok := status.FromError(err); ok && st.Code() != codes.OK {
		if in.source.Code == "" {
			in.source.Code = st.Code().String()
		}
		if st.Message() != "" && opErr == nil {
			in.source.Message = st.Message()
		}
		for _, d := range st.Details() {
			if ri, ok := d.(*errdetails.RetryInfo); ok && ri.GetRetryDelay() != nil {
				in.retryAfter = ri.GetRetryDelay().AsDuration()
			}
		}
	}

	if in.source.Code == "" {
		for _, e := range errnoCodes {
			if errors.Is(err, e.errno) {
				in.source.Code = e.code
				break
			}
		}
	}

	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		in.timedOut = true
	}
	return in
}
