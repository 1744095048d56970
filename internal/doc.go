// Package csgmeter implements an electricity metering data collector
// for the China Southern Power Grid customer API (95598.csg.cn).
//
// # Architecture
//
// The collector is structured into several key packages:
//   - csg: vendor protocol client (hybrid crypto, sessions, accounts)
//   - metering: typed read operations over the vendor client
//   - scheduler: differentiated-cadence refresh of data buckets
//   - database: optional PostgreSQL retention of readings
//   - config: YAML configuration with environment expansion
//   - models: shared data structures
//
// Key Features
//
//   - Hybrid crypto transport:
//     Request and response payloads travel AES-CBC encrypted inside a
//     JSON envelope; the login password is RSA encrypted with the
//     vendor's public key.
//
//   - Session lifecycle:
//     Sessions are opaque tokens that can be persisted, restored and
//     verified, so restarts do not force a fresh login.
//
//   - Differentiated cadence:
//     Live buckets (balance, ladder, current series) refresh every
//     poll; closed periods refresh only in their stabilization windows
//     at the start of a month or year.
//
//   - Fixed-point money and energy:
//     All financial and kWh values are decimals end to end.
//
// For more information about specific packages, see their respective
// documentation.
package csgmeter
