package services

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

// Where clients put their device id.
const (
	SocketDeviceHeader = "X-Device-Id"
	SocketDeviceQuery  = "deviceId"
	HTTPDeviceHeader   = "Device-Id"
)

// ConnContext is the per-connection identity, created once at handshake.
type ConnContext struct {
	ConnID      string
	Identity    string
	ConnectedAt time.Time
}

// GatewayAuth turns a socket handshake into a ConnContext.
type GatewayAuth struct {
	now func() time.Time
}

func NewGatewayAuth(now func() time.Time) *GatewayAuth {
	if now == nil {
		now = time.Now
	}
	return &GatewayAuth{now: now}
}

// Authenticate reads the device id from the x-device-id header, falling back
// to the deviceId query parameter for browser clients that cannot set
// headers on the upgrade request.
func (g *GatewayAuth) Authenticate(connID string, header http.Header, query url.Values) (*ConnContext, error) {
	identity := strings.TrimSpace(header.Get(SocketDeviceHeader))
	if identity == "" {
		identity = strings.TrimSpace(query.Get(SocketDeviceQuery))
	}
	if identity == "" {
		log.WithField("connId", connID).Warn("🚫 Connection rejected: missing device id")
		return nil, ErrRejected
	}
	return &ConnContext{ConnID: connID, Identity: identity, ConnectedAt: g.now()}, nil
}
