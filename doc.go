// Package tinycan is a host side driver for the MHS Tiny-CAN family of CAN
// bus adapters. It layers a stateful session, typed options, resource slot
// allocation and event dispatch over the narrow error-code based native
// API, which is abstracted behind the Device interface so the same session
// logic runs against the vendor firmware, a SocketCAN interface or the
// in-memory virtual device.
package tinycan
