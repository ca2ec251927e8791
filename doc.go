// Package entsync synchronizes entities between an authoritative
// server and predicted clients for soft-realtime simulations.
//
// Entities owned by the local participant are predicted as inputs are
// sent and reconciled whenever an authoritative snapshot arrives;
// entities owned by remote participants are reconstructed by
// interpolation between snapshots or by dead reckoning. The server
// keeps a bounded timestamped history of its world state so delayed
// client actions can be lag-compensated and resimulated forward.
//
// The sub-packages hold the moving parts (pkg/serversync,
// pkg/clientsync, pkg/hist, pkg/memnet, pkg/transport); this package
// wires a ready-to-tick in-memory pair for local play and tests.
package entsync
