/*
Package metrics defines the Prometheus instrumentation surface the storage
engine reports through.

The engine only increments/observes these collectors; scraping and export
are the HTTP layer's job (the metrics sink is an external collaborator, per
the storage engine's scope). Handler exposes the standard promhttp handler
for callers that do wire up that HTTP layer, and Timer is a small helper for
observing operation durations without repeating time.Since boilerplate at
every call site.
*/
package metrics
