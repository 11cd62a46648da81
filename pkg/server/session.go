package server

import (
	"context"
	"encoding/json"
	"net"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/quantegy/ordergate/params"
	"github.com/quantegy/ordergate/pkg/auth"
	"github.com/quantegy/ordergate/pkg/core"
	"github.com/quantegy/ordergate/pkg/engine"
	"github.com/quantegy/ordergate/pkg/metrics"
	"github.com/quantegy/ordergate/pkg/rawhttp"
	"github.com/quantegy/ordergate/pkg/ws"
)

// session owns one accepted socket from first byte to close. All state
// here belongs to this connection's goroutine only.
type session struct {
	conn    net.Conn
	engine  *engine.Engine
	auth    *auth.Verifier
	cfg     params.Server
	log     *zap.SugaredLogger
	metrics *metrics.Metrics
}

func (s *session) run(ctx context.Context) {
	s.metrics.SessionOpened()
	defer s.metrics.SessionClosed()
	defer s.conn.Close()

	log := s.log.With("session_id", uuid.NewString(), "remote", s.conn.RemoteAddr().String())
	log.Debugw("session_opened")

	_ = s.conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
	req, err := rawhttp.ReadRequest(s.conn)
	if err != nil {
		log.Infow("request_rejected", "err", err)
		s.writeRaw(statusBadRequest, err.Error())
		return
	}

	userID, err := s.auth.Authenticate(req)
	if err != nil {
		log.Infow("auth_failed", "err", err)
		s.writeRaw(statusUnauthorized, bodyUnauthorized)
		return
	}
	log = log.With("user_id", userID)

	switch {
	case req.Method == "GET" && req.Path == "/order/ws":
		s.serveWebSocket(ctx, req, userID, log)
	case req.Method == "POST" && req.Path == "/order":
		s.submitOrder(ctx, req, userID, log)
	case req.Method == "GET" && req.Path == "/order":
		s.listOrders(ctx, userID, log)
	case req.Method == "GET" && req.Path == "/portfolio":
		s.listPortfolios(ctx, userID, log)
	case req.Method == "GET" && req.Path == "/account":
		s.accountSnapshot(ctx, userID, log)
	default:
		s.writeRaw(statusNotFound, bodyNotFound)
	}
}

// serveWebSocket completes the handshake and runs the per-connection
// frame loop: one chunk, one frame, one order, one reply.
func (s *session) serveWebSocket(ctx context.Context, req *rawhttp.Request, userID int32, log *zap.SugaredLogger) {
	if !ws.IsUpgrade(req) {
		s.writeRaw(statusNotFound, bodyNotFound)
		return
	}
	if _, err := s.conn.Write(ws.HandshakeResponse(req)); err != nil {
		log.Warnw("handshake_write_failed", "err", err)
		return
	}
	log.Infow("ws_session_started")

	buf := make([]byte, rawhttp.MaxRequestBytes)
	for ctx.Err() == nil {
		_ = s.conn.SetReadDeadline(time.Now().Add(s.cfg.WSIdleTimeout))
		n, err := s.conn.Read(buf)
		if err != nil || n == 0 {
			break
		}
		payload, ok := ws.Decode(buf[:n])
		if !ok {
			// Close frame, control frame or a frame we cannot
			// decode: the read loop is done.
			break
		}
		s.metrics.FrameIn()

		envelope := s.orderEnvelope(ctx, payload, userID)
		reply, err := json.Marshal(envelope)
		if err != nil {
			log.Errorw("envelope_encode_failed", "err", err)
			break
		}
		if _, err := s.conn.Write(ws.EncodeText(string(reply))); err != nil {
			break
		}
		s.metrics.FrameOut()
	}

	log.Infow("ws_session_closed")
	if tcp, ok := s.conn.(*net.TCPConn); ok {
		_ = tcp.CloseRead()
		_ = tcp.CloseWrite()
	}
}

func (s *session) orderEnvelope(ctx context.Context, payload string, userID int32) core.Envelope {
	var form core.OrderForm
	if err := json.Unmarshal([]byte(payload), &form); err != nil {
		return core.ErrorEnvelope(core.Wrap(core.KindSerde, err), s.engine.Now().Now())
	}
	return s.engine.HandleOrderEnvelope(ctx, form, userID)
}

// submitOrder is the single-shot POST path. The body may carry a
// user_id; it is ignored — identity comes from the verified token.
func (s *session) submitOrder(ctx context.Context, req *rawhttp.Request, userID int32, log *zap.SugaredLogger) {
	var form core.OrderForm
	if err := json.Unmarshal([]byte(req.Body), &form); err != nil {
		log.Infow("order_body_invalid", "err", err)
		s.writeRaw(statusBadRequest, "invalid order body")
		return
	}
	orderID, err := s.engine.HandleOrder(ctx, form, userID)
	if err != nil {
		s.writeEnvelope(statusFor(err), core.ErrorEnvelope(err, s.engine.Now().Now()))
		return
	}
	s.writeEnvelope(statusOK, core.OK(strconv.FormatInt(int64(orderID), 10)))
}

func (s *session) listOrders(ctx context.Context, userID int32, log *zap.SugaredLogger) {
	orders, err := s.engine.Orders(ctx, userID)
	if err != nil {
		log.Errorw("list_orders_failed", "err", err)
		s.writeEnvelope(statusFor(err), core.ErrorEnvelope(err, s.engine.Now().Now()))
		return
	}
	s.writeEnvelope(statusOK, core.OK(orders))
}

func (s *session) listPortfolios(ctx context.Context, userID int32, log *zap.SugaredLogger) {
	portfolios, err := s.engine.Portfolios(ctx, userID)
	if err != nil {
		log.Errorw("list_portfolios_failed", "err", err)
		s.writeEnvelope(statusFor(err), core.ErrorEnvelope(err, s.engine.Now().Now()))
		return
	}
	s.writeEnvelope(statusOK, core.OK(portfolios))
}

func (s *session) accountSnapshot(ctx context.Context, userID int32, log *zap.SugaredLogger) {
	snapshot, err := s.engine.AccountSnapshot(ctx, userID)
	if err != nil {
		log.Errorw("account_snapshot_failed", "err", err)
		s.writeEnvelope(statusFor(err), core.ErrorEnvelope(err, s.engine.Now().Now()))
		return
	}
	s.writeEnvelope(statusOK, core.OK(snapshot))
}

func (s *session) writeRaw(status, body string) {
	_, _ = s.conn.Write([]byte(status + body))
}

func (s *session) writeEnvelope(status string, envelope core.Envelope) {
	body, err := json.Marshal(envelope)
	if err != nil {
		s.writeRaw(statusInternal, "")
		return
	}
	s.writeRaw(status, string(body))
}
