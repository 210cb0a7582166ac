package testutil

import (
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"custody/pkg/requestcontext"
)

// RequestOption decorates a test request.
type RequestOption func(*http.Request) *http.Request

// AsCaller authenticates the request as caller. The zero address leaves it
// anonymous.
func AsCaller(caller common.Address) RequestOption {
	return func(req *http.Request) *http.Request {
		if caller == (common.Address{}) {
			return req
		}
		return req.WithContext(requestcontext.WithCaller(req.Context(), caller))
	}
}

// At pins the request time.
func At(t time.Time) RequestOption {
	return func(req *http.Request) *http.Request {
		return req.WithContext(requestcontext.WithTime(req.Context(), t))
	}
}
