// Package shuffle contains the core components of Sif's shuffle storage layer, which persists
// partitioned map output on an executor and serves it back to reducers.
// This root package defines the contracts between the engine and its host (storage handle,
// map output tracker, codec manager) as well as the capability surface the host invokes,
// and is an excellent overview of the shuffle's key concepts.
package shuffle
