// Package api hosts the HTTP server, middleware, and handlers for NetWatch. Routes:
//   - GET /alerts and /alerts/{ids} list watch items; ids are comma separated.
//   - POST /alerts, PUT /alerts/{id} and DELETE /alerts/{id} manage watch items from
//     query parameters.
//   - GET /updates lists the change log, newest first.
//   - GET and PUT /config read and update the settings map.
//   - POST /netwatch?ids=a,b runs a batch synchronously and returns the changed items.
//   - GET /healthz and /metrics for probes and Prometheus scraping.
//
// Any other path or method answers 400 with an empty body.
package api
