// Package dispatcher resolves which session receives an outbound command
// and shapes the high-level intent into wire-protocol payloads (spec §4.4).
//
// A Dispatcher is stateless: it holds no device or session state of its
// own, only references to a SessionProvider and a Registry, and looks
// both up fresh on every call (spec §9 design note: "Dispatcher is
// stateless", breaking the Session/Device/Dispatcher reference cycle by
// looking devices up in the registry rather than holding pointers to
// them).
package dispatcher
