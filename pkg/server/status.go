package server

import "github.com/quantegy/ordergate/pkg/core"

// Raw status lines written to the socket. The surface is fixed: one
// request, one response, no keep-alive.
const (
	statusOK           = "HTTP/1.1 200 OK\r\nContent-Type: application/json\r\n\r\n"
	statusBadRequest   = "HTTP/1.1 400 Bad Request\r\n\r\n"
	statusUnauthorized = "HTTP/1.1 401 Unauthorized\r\n\r\n"
	statusNotFound     = "HTTP/1.1 404 NOT FOUND\r\n\r\n"
	statusInternal     = "HTTP/1.1 500 Internal Error\r\n\r\n"

	bodyUnauthorized = "401 unauthorized"
	bodyNotFound     = "404 Not Found"
)

func statusFor(err error) string {
	switch core.KindOf(err) {
	case core.KindBadRequest, core.KindSerde, core.KindNotEnoughFunds, core.KindNotEnoughHoldings:
		return statusBadRequest
	case core.KindUnauthorized:
		return statusUnauthorized
	case core.KindNotFound:
		return statusNotFound
	default:
		return statusInternal
	}
}
