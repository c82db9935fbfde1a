// Package mqttbridge publishes the registry's devices and groups onto the
// home-automation MQTT bus as Home-Assistant-style discovered entities,
// republishes their state on every registry change, and translates
// inbound MQTT commands into dispatcher calls (spec §4.5).
//
//	Home Assistant ↔ MQTT Broker ↔ meshbridge ↔ mesh-lighting devices
//
// Bridge implements registry.Notifier so the registry can push change
// notifications without importing this package (spec §9 "break the
// reference cycle"): the registry owns devices, the dispatcher is
// stateless, and the MQTT bridge only reacts to registry events and
// inbound commands.
package mqttbridge
