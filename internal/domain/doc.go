// Package domain contains the core conversion concepts: requests, options,
// results and the error taxonomy shared by the pipeline and the HTTP layer.
// Keep this package free of transport (HTTP) and infrastructure (Redis/Chrome) concerns.
package domain
