package ws

import (
	"context"

	json "github.com/goccy/go-json"

	"github.com/kcls/osrfgo/addr"
	"github.com/kcls/osrfgo/fabricerr"
	"github.com/kcls/osrfgo/osrfmsg"
)

// clientRequest is the wire shape of one WS request frame relayed toward
// the fabric.
type clientRequest struct {
	Service string          `json:"service"`
	Thread  string          `json:"thread"`
	OSRFMsg json.RawMessage `json:"osrf_msg"`
	LogXid  string          `json:"log_xid,omitempty"`
	Format  string          `json:"format,omitempty"`
}

// clientResponse is the wire shape of one WS response frame.
type clientResponse struct {
	OSRFXid        string            `json:"osrf_xid,omitempty"`
	Thread         string            `json:"thread"`
	OSRFMsg        []osrfmsg.Message `json:"osrf_msg"`
	TransportError bool              `json:"transport_error,omitempty"`
}

const maxThreadLen = 256

// decodeOSRFMsg accepts either a single message object or an array of
// message objects, per the WS client contract's `osrf_msg: obj | [obj,…]`.
func decodeOSRFMsg(raw json.RawMessage) ([]osrfmsg.Message, error) {
	var batch []osrfmsg.Message
	if err := json.Unmarshal(raw, &batch); err == nil {
		return batch, nil
	}
	var single osrfmsg.Message
	if err := json.Unmarshal(raw, &single); err != nil {
		return nil, fabricerr.MalformedEnvelope("decoding osrf_msg: %v", err)
	}
	return []osrfmsg.Message{single}, nil
}

// relayToFabric parses one queued WS text frame and, if valid, sends it on
// to the fabric as a single TransportMessage
// "Relay of one client message".
func (s *Session) relayToFabric(ctx context.Context, text []byte) {
	var req clientRequest
	if err := json.Unmarshal(text, &req); err != nil {
		s.log.Warn("ws gateway: malformed request frame: %v", err)
		return
	}
	if req.Thread == "" || len(req.Thread) > maxThreadLen {
		s.log.Warn("ws gateway: request missing or oversized thread")
		return
	}

	body, err := decodeOSRFMsg(req.OSRFMsg)
	if err != nil {
		s.log.Warn("ws gateway: %v", err)
		return
	}

	var dest addr.Address
	var to string
	if cached, ok := s.sessions[req.Thread]; ok {
		dest = cached
		to = cached.String()
	} else {
		dest = s.routerAddr
		to = addr.BareService(req.Service).String()
	}

	for i := range body {
		m := &body[i]
		m.Ingress = WSTranslatorIngress

		switch m.Type {
		case osrfmsg.TypeConnect:
			s.reqsInFlight++
		case osrfmsg.TypeRequest:
			s.reqsInFlight++
			s.logCall(req.Thread, m)
		case osrfmsg.TypeDisconnect:
			delete(s.sessions, req.Thread)
			delete(s.threadXid, req.Thread)
		default:
			s.log.Warn("ws gateway: rejecting batch with unexpected message type %s", m.Type)
			return
		}
	}

	if req.LogXid != "" {
		s.threadXid[req.Thread] = req.LogXid
	}

	tm := osrfmsg.NewTransportMessage(to, s.busConn.Self().String(), req.Thread, body...)
	tm.OSRFXid = req.LogXid
	if err := s.busConn.SendTo(ctx, dest, tm); err != nil {
		s.log.Warn("ws gateway: relaying to fabric: %v", err)
	}
}

// logCall logs a REQUEST call, redacting params for methods matched by the
// configured log-protect prefixes.
func (s *Session) logCall(thread string, m *osrfmsg.Message) {
	call, ok := m.Payload.(osrfmsg.MethodCall)
	if !ok {
		return
	}
	if logProtected(s.cfg.LogProtectPrefixes, call.Method) {
		s.log.Info("ws gateway: thread %s call %s(%s)", thread, call.Method, redactionMarker)
		return
	}
	s.log.Info("ws gateway: thread %s call %s with %d param(s)", thread, call.Method, len(call.Params))
}

// relayToClient translates one fabric TransportMessage into a WS response
// frame "Relay of one server message to WS".
func (s *Session) relayToClient(tm *osrfmsg.TransportMessage) {
	resp := clientResponse{
		Thread:  tm.Thread,
		OSRFXid: tm.OSRFXid,
		OSRFMsg: tm.Body,
	}
	if resp.OSRFXid == "" {
		resp.OSRFXid = s.threadXid[tm.Thread]
	}

	for _, m := range tm.Body {
		status, ok := m.Payload.(osrfmsg.Status)
		if !ok {
			continue
		}
		switch {
		case status.StatusCode == fabricerr.CodeOK:
			if from, err := addr.Parse(tm.From); err == nil {
				s.sessions[tm.Thread] = from
			}
			s.decRequestsInFlight()
		case status.StatusCode == fabricerr.CodeComplete:
			s.decRequestsInFlight()
		case status.StatusCode.IsFailure():
			s.decRequestsInFlight()
			delete(s.sessions, tm.Thread)
			resp.TransportError = true
		}
	}

	payload, err := json.Marshal(resp)
	if err != nil {
		s.log.Warn("ws gateway: encoding response frame: %v", err)
		return
	}
	if err := s.conn.WriteMessage(textMessage, payload); err != nil {
		s.log.Warn("ws gateway: writing response frame: %v", err)
		s.shutdown.Store(true)
	}
}
