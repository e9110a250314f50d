// Package gateway exposes a buffer resource over HTTP and WebSocket.
//
// The JSON API lives under /v1/:
//
//	GET    /v1/size                    current capacity
//	PUT    /v1/size                    resize, body {"capacity":n}
//	POST   /v1/clear                   drop buffered data
//	GET    /v1/status?dir=r|w|rw&wait= level-triggered readiness
//	POST   /v1/read?max=n&block=       drain bytes, raw body response
//	POST   /v1/write?block=            append raw body
//	GET    /v1/events?dir=read|write   WebSocket readiness event feed
//	POST   /v1/writer                  open a persistent writer session
//	DELETE /v1/writer?token=           close a writer session
//
// /healthz serves aggregated health and /metrics serves Prometheus
// metrics when a registry is attached.
//
// Mutating operations open a write-capable handle for the duration of
// the request, so writer-count end-of-input semantics hold for remote
// callers exactly as for in-process ones. Read-only deployments open
// read handles instead and surface permission errors as 403.
package gateway
