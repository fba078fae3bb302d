// Package domain contains the core entities and value objects for canlog.
//
// This package is the innermost layer. It has no dependencies on
// infrastructure concerns (bus adapters, storage, logging) and contains only
// data types, their invariants and the error taxonomy.
//
// # Entities
//
//   - [RawFrame]: a single CAN frame with its capture timestamp
//   - [SignalDef] and [SignalLayout]: how physical values are laid out in payloads
//   - [DecodedSample]: one physical value extracted from a frame
//   - [Session]: one continuous logging run
//   - [Batch]: a run of samples handed to storage together
//
// # Errors
//
// [ErrBus] and [ErrStorage] classify failures; [BusError] and
// [StorageError] carry the cause and match them with errors.Is.
package domain
