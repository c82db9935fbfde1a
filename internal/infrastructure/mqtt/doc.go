// Package mqtt provides MQTT client connectivity for the bridge.
//
// This package manages:
//   - Connection to the configured broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Topic subscriptions with wildcard support
//   - Last Will and Testament (LWT) for offline detection
//   - Connection health monitoring
//
// # Architecture
//
// The bridge uses MQTT as its southbound integration surface: device and
// group state is published as retained messages, Home Assistant discovery
// documents advertise each entity, and commands arrive on a `<topic>/set/#`
// subscription that the dispatcher turns into wire-protocol writes.
//
//	Home Assistant ↔ MQTT Broker ↔ meshbridge ↔ mesh-lighting devices
//
// # Security Considerations
//
//   - TLS is required for production deployments (cfg.Broker.TLS=true)
//   - Credentials are validated against broker ACL
//   - Anonymous access is only for local development
//   - Message payloads are not encrypted beyond TLS transport
//
// # Performance Characteristics
//
//   - Connection: <1 second to local broker
//   - Publish latency: <10ms for QoS 1 to local broker
//   - Reconnect: Exponential backoff 1s-60s with jitter
//   - Message throughput: Broker-limited (typically 10K+ msg/sec)
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	topics := mqtt.Topics{Base: cfg.MQTT.Topic, Discovery: cfg.MQTT.DiscoveryTopic, Status: cfg.MQTT.StatusTopic}
//	err = client.Subscribe(topics.CommandWildcard(), 1,
//	    func(topic string, payload []byte) error {
//	        return nil
//	    })
package mqtt
