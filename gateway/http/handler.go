package http

import (
	"context"
	"net/http"

	json "github.com/goccy/go-json"

	"github.com/kcls/osrfgo/addr"
	"github.com/kcls/osrfgo/fabricerr"
	"github.com/kcls/osrfgo/osrfmsg"
	"github.com/kcls/osrfgo/session"
)

// gatewayResponse is the wire shape of a response:
// `{status: 200|400, payload: [result,…]}`.
type gatewayResponse struct {
	Status  int            `json:"status"`
	Payload []osrfmsg.Value `json:"payload"`
}

// handleGateway relays a single request/response call over the bus.
func (s *Server) handleGateway(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeGatewayError(w, http.StatusBadRequest)
		return
	}

	service := r.Form.Get("service")
	method := r.Form.Get("method")
	if service == "" || method == "" {
		writeGatewayError(w, http.StatusBadRequest)
		return
	}

	params, err := decodeParams(r.Form["param"])
	if err != nil {
		writeGatewayError(w, http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.RequestTimeout)
	defer cancel()

	payload, code := s.relay(ctx, service, method, params)
	status := http.StatusOK
	if code.IsFailure() {
		status = http.StatusBadRequest
	}
	writeGatewayResponse(w, status, payload)
}

// decodeParams parses each repeated `param` value as a JSON document, per
// the HTTP gateway's `param*` convention.
func decodeParams(raw []string) ([]osrfmsg.Value, error) {
	params := make([]osrfmsg.Value, 0, len(raw))
	for _, p := range raw {
		var probe any
		if err := json.Unmarshal([]byte(p), &probe); err != nil {
			return nil, err
		}
		params = append(params, osrfmsg.RawValue([]byte(p)))
	}
	return params, nil
}

// relay drives a disconnected one-shot call to completion over a fresh
// session.Client bound to its own bus connection, collecting every result
// value until STATUS=Complete or a failing status arrives. A fresh
// bus.Client (fresh addr.Client nonce, fresh reply queue) is opened per
// relay so that concurrent in-flight requests never share a thread_trace
// counter or a broker queue.
func (s *Server) relay(ctx context.Context, service, method string, params []osrfmsg.Value) ([]osrfmsg.Value, fabricerr.Code) {
	busCfg := s.busCfg
	busCfg.Self = addr.Client(busCfg.Self.Username, busCfg.Self.Domain, busCfg.Self.Service)

	busConn, err := s.dial(ctx, busCfg)
	if err != nil {
		s.log.Error("http gateway: connecting request bus client: %v", err)
		return nil, fabricerr.CodeInternalServerErr
	}
	defer busConn.Close()

	client := session.NewClient(s.log, busConn, service, s.routerAddr)
	req, err := client.Request(ctx, method, params)
	if err != nil {
		return nil, fabricerr.CodeInternalServerErr
	}

	var payload []osrfmsg.Value
	for {
		resp, err := client.Recv(ctx, req, s.cfg.RequestTimeout)
		if err != nil {
			if ferr, ok := err.(*fabricerr.Error); ok {
				return nil, ferr.Code
			}
			return nil, fabricerr.CodeInternalServerErr
		}
		if resp.HasValue {
			payload = append(payload, resp.Value)
		}
		if resp.Complete {
			return payload, fabricerr.CodeOK
		}
		if !resp.HasValue && !resp.Complete {
			// Recv timed out without a terminating status.
			return payload, fabricerr.CodeTimeout
		}
	}
}

func writeGatewayResponse(w http.ResponseWriter, status int, payload []osrfmsg.Value) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(gatewayResponse{Status: status, Payload: payload})
}

func writeGatewayError(w http.ResponseWriter, status int) {
	writeGatewayResponse(w, status, nil)
}
