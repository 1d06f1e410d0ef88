package api

import (
	"context"
	"net/http"
)

// HostHeader carries the per-install host id on every request and stream handshake.
const HostHeader = "X-Host-Uuid"

// Identity says who is watching. HostUUID comes from local storage; Anonymous
// suppresses it so the scan service only sees the user id in the path.
type Identity struct {
	HostUUID  string
	Anonymous bool
}

// apply writes the identity header, or removes it when nothing may be sent.
func (id Identity) apply(h http.Header) {
	if id.Anonymous || id.HostUUID == "" {
		h.Del(HostHeader)
		return
	}
	h.Set(HostHeader, id.HostUUID)
}

type identityKey struct{}

// WithIdentity overrides the client's default identity for calls made with the returned context.
func WithIdentity(parent context.Context, id Identity) context.Context {
	return context.WithValue(parent, identityKey{}, id)
}

// IdentityFromContext returns the identity stored by WithIdentity.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok
}

// identityFor picks the context identity over the client default.
func (c *Client) identityFor(ctx context.Context) Identity {
	if id, ok := IdentityFromContext(ctx); ok {
		return id
	}
	return c.defaultIdentity
}
