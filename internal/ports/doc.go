// Package ports defines the interfaces (ports) that connect the application
// layer to infrastructure adapters.
//
// # Port Interfaces
//
//   - [FrameSource]: receives raw frames from a bus adapter or a capture
//   - [Storage]: persists batches of decoded samples durably
//   - [SessionRepository]: records session metadata across runs
//   - [StorageGate]: checks the destination before a write
//   - [HTTPClient]: HTTP request abstraction for dependency injection
//
// # Usage
//
// The application layer (internal/app) depends only on these interfaces.
// Infrastructure adapters (internal/adapters) implement them with socketcan,
// serial, capture files, JSONL files, sqlite and HTTP.
package ports
