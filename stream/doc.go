// Package stream implements the duplex streaming sub-protocol carried over
// a persistent connection.
//
// A duplex exchange multiplexes control messages and raw payload chunks on
// one WebSocket connection, correlated to the originating JSON-RPC request
// by its identifier:
//
//   - "start" declares the direction(s) and content kind of an exchange.
//   - chunk frames carry a strictly increasing per-direction sequence number
//     starting at 0. Text chunks travel as JSON control frames, binary
//     chunks as binary WebSocket frames with a compact header.
//   - "done" ends the sender's side of a direction and carries a summary.
//   - "fail" ends the whole exchange immediately with a structured error.
//
// The Engine owns the write side of the connection behind a single mutex:
// handler outbound writes and engine control writes never interleave partial
// frames. The read side is owned by exactly one receive loop (driven by the
// transport), which feeds inbound chunks to handlers through a bounded
// channel per exchange. Closing the connection forces every open exchange to
// Failed and unblocks any handler waiting on it.
package stream
