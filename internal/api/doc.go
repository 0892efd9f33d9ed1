// Package api provides the HTTP control API and WebSocket event stream for
// minerctl.
//
// Routes (all under /api/v1 unless noted):
//
//	GET  /health             liveness, no auth
//	GET  /status             supervisor state, telemetry and the miner dashboard URL
//	GET  /snapshot           current telemetry snapshot
//	POST /miner/start        start the miner (409 while running)
//	POST /miner/stop         stop the miner; idempotent
//	GET  /tuning/profiles    profile names from the tool's ini file
//	POST /tuning/apply       {"profile": "Kaspa", "gpu_index": 0}
//	POST /tuning/diagnose    trial run of the tuning tool (?profile=)
//	GET  /tuning/history     persisted tuning results (?limit=)
//	GET  /blocks             persisted block wins (?limit=)
//	GET  /runs               persisted miner runs (?limit=)
//	GET  /audit              operator actions (?action=&source=&limit=&offset=)
//	GET  /logs/tail          tail of the miner log (?bytes=)
//	GET  /metrics            JSON operations summary
//	GET  /ws                 WebSocket event stream (?channels=block_found,snapshot)
//	GET  /metrics            (root) Prometheus exposition, when enabled
//
// When security.jwt.secret is set every route except /health and the
// Prometheus endpoint needs a bearer token. The token's role must grant the
// route's permission (see package auth). WebSocket clients may pass the
// token as ?token= instead of a header.
//
// WebSocket channels are event kinds: block_found, snapshot, state_changed,
// warning, tuning and log_line. "*" subscribes to all of them. Clients can
// change subscriptions with {"type":"subscribe","payload":{"channels":[...]}}.
//
// The server follows the same lifecycle pattern as other infrastructure components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
package api
