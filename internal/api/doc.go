// Package api exposes the bridge's lifecycle HTTP surface: health/readiness
// probes plus the two signals the export/OTP collaborator uses to tell the
// core its config changed or a restart was requested (spec §6 "Optional
// HTTP ingress on :23778 ... this core only exposes lifecycle hooks").
//
// The export/OTP UI itself is an external collaborator (spec §1
// Non-goals); this router only serves the fixed set of routes the core
// needs, following the teacher's go-chi/chi routing convention
// (internal/api/router.go) at a fraction of its surface.
package api
