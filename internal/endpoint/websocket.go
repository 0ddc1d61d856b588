package endpoint

import (
	"bufio"
	"crypto/rand"
	"crypto/sha1"
	"crypto/tls"
	"encoding/base64"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/wudi/apigate/internal/errors"
	"github.com/wudi/apigate/internal/logging"
)

// websocketGUID is the key-signing constant from RFC 6455.
const websocketGUID = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"

// acceptKey computes the Sec-WebSocket-Accept value for a client key.
func acceptKey(key string) string {
	h := sha1.New()
	io.WriteString(h, key)
	io.WriteString(h, websocketGUID)
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// newClientKey generates a fresh Sec-WebSocket-Key for the upstream
// handshake.
func newClientKey() string {
	var b [16]byte
	rand.Read(b[:])
	return base64.StdEncoding.EncodeToString(b[:])
}

// serveWebSocket proxies a WebSocket upgrade: it validates the client
// handshake, performs its own handshake against the upstream, answers 101
// to the client and then copies frames in both directions until either
// side closes.
func (e *upstreamEndpoint) serveWebSocket(w http.ResponseWriter, r *http.Request, authority string) {
	if r.Method != http.MethodGet || r.Header.Get("Sec-Websocket-Version") != "13" {
		errors.ErrBadRequest.WriteJSON(w)
		return
	}
	key := r.Header.Get("Sec-Websocket-Key")
	if key == "" {
		errors.ErrBadRequest.WriteJSON(w)
		return
	}
	protocol := r.Header.Get("Sec-Websocket-Protocol")

	upstreamConn, upstreamBuf, err := e.dialWebSocket(r, authority, protocol)
	if err != nil {
		logging.Error("failed to connect to upstream websocket",
			zap.String("authority", authority),
			zap.Error(err),
		)
		errors.ErrServiceUnavailable.WithDetails(err.Error()).WriteJSON(w)
		return
	}
	defer upstreamConn.Close()

	hijacker, ok := w.(http.Hijacker)
	if !ok {
		errors.ErrInternalServer.WithDetails("websocket upgrade not supported").WriteJSON(w)
		return
	}
	clientConn, clientBuf, err := hijacker.Hijack()
	if err != nil {
		errors.ErrInternalServer.WithDetails("failed to hijack connection").WriteJSON(w)
		return
	}
	defer clientConn.Close()

	// Complete the client-side upgrade
	var resp strings.Builder
	resp.WriteString("HTTP/1.1 101 Switching Protocols\r\n")
	resp.WriteString("Connection: upgrade\r\n")
	resp.WriteString("Upgrade: websocket\r\n")
	resp.WriteString("Sec-WebSocket-Accept: " + acceptKey(key) + "\r\n")
	if protocol != "" {
		resp.WriteString("Sec-WebSocket-Protocol: " + protocol + "\r\n")
	}
	resp.WriteString("\r\n")
	if _, err := clientBuf.WriteString(resp.String()); err != nil {
		return
	}
	if err := clientBuf.Flush(); err != nil {
		return
	}

	// Copy frames until either side closes
	errCh := make(chan error, 2)
	go func() {
		_, err := io.Copy(upstreamConn, clientBuf.Reader)
		errCh <- err
	}()
	go func() {
		_, err := io.Copy(clientConn, upstreamBuf)
		errCh <- err
	}()
	<-errCh

	clientConn.SetDeadline(time.Now().Add(time.Second))
	upstreamConn.SetDeadline(time.Now().Add(time.Second))
}

// dialWebSocket connects to the upstream authority and performs the
// WebSocket handshake over ws/wss depending on the configured scheme.
// The returned reader holds any bytes the upstream sent past the 101.
func (e *upstreamEndpoint) dialWebSocket(r *http.Request, authority string, protocol string) (net.Conn, *bufio.Reader, error) {
	addr := authority
	secure := e.scheme == "https"
	if !strings.Contains(addr, ":") {
		if secure {
			addr += ":443"
		} else {
			addr += ":80"
		}
	}

	var conn net.Conn
	var err error
	if secure {
		conn, err = tls.DialWithDialer(&net.Dialer{Timeout: 10 * time.Second}, "tcp", addr, nil)
	} else {
		conn, err = net.DialTimeout("tcp", addr, 10*time.Second)
	}
	if err != nil {
		return nil, nil, err
	}

	reqPath := r.URL.Path
	if r.URL.RawQuery != "" {
		reqPath += "?" + r.URL.RawQuery
	}

	var req strings.Builder
	req.WriteString(r.Method + " " + reqPath + " HTTP/1.1\r\n")
	req.WriteString("Host: " + authority + "\r\n")
	req.WriteString("Upgrade: websocket\r\n")
	req.WriteString("Connection: Upgrade\r\n")
	req.WriteString("Sec-WebSocket-Key: " + newClientKey() + "\r\n")
	req.WriteString("Sec-WebSocket-Version: 13\r\n")
	if protocol != "" {
		req.WriteString("Sec-WebSocket-Protocol: " + protocol + "\r\n")
	}
	writeForwardHeaders(&req, r.Header)
	req.WriteString("\r\n")

	if _, err := conn.Write([]byte(req.String())); err != nil {
		conn.Close()
		return nil, nil, err
	}

	br := bufio.NewReader(conn)
	resp, err := http.ReadResponse(br, nil)
	if err != nil {
		conn.Close()
		return nil, nil, err
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusSwitchingProtocols {
		conn.Close()
		return nil, nil, errors.New(resp.StatusCode, "upstream refused websocket upgrade")
	}

	return conn, br, nil
}

// writeForwardHeaders copies client headers into the upstream handshake,
// skipping the handshake-owned and hop-by-hop ones.
func writeForwardHeaders(b *strings.Builder, header http.Header) {
	skip := map[string]bool{
		"Host":                     true,
		"Upgrade":                  true,
		"Connection":               true,
		"Sec-Websocket-Key":        true,
		"Sec-Websocket-Version":    true,
		"Sec-Websocket-Protocol":   true,
		"Sec-Websocket-Extensions": true,
		"Keep-Alive":               true,
		"Proxy-Connection":         true,
		"Te":                       true,
		"Trailer":                  true,
		"Transfer-Encoding":        true,
	}
	for k, vv := range header {
		if skip[k] {
			continue
		}
		for _, v := range vv {
			b.WriteString(k + ": " + v + "\r\n")
		}
	}
}
