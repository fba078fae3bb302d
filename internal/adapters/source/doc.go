// Package source implements ports.FrameSource for live interfaces and
// capture files.
//
//   - [SocketCAN]: a Linux SocketCAN interface such as can0
//   - [SLCAN]: a Lawicel ASCII adapter on a serial port
//   - [Candump]: a can-utils candump log file
//   - [PCAP]: a pcap or pcapng capture with SocketCAN link type
//   - [Scripted]: an in-memory frame sequence for tests and demos
//
// Replay sources report the end of the capture as a bus error wrapping
// io.EOF: the link has ended.
package source
