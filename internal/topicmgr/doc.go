// Package topicmgr is the catalog of event types known to the bus.
//
// Every event type has a name, a scope and a payload type. The name doubles as
// the default routing key, so names follow a dotted lowercase convention
// (order.created, topology.client.register). The payload type lets the codec
// turn an inbound message back into a concrete Go value.
//
// Framework event types belong to the bus itself and carry the topology. prefix:
//
//	var Heartbeat = topicmgr.Define[HeartBeat](topicmgr.TopicConfig{
//		Name:        "topology.client.heartbeat",
//		Scope:       topicmgr.ScopeFramework,
//		Description: "Periodic liveness signal from a client",
//	})
//
// Module event types are defined by applications:
//
//	var OrderCreated = topicmgr.Define[OrderCreatedEvent](topicmgr.TopicConfig{
//		Name:        "order.created",
//		Module:      "order",
//		Description: "An order was accepted",
//	})
//
// Define registers with the default manager and panics on invalid definitions,
// so it is meant for package-level variables. Tests that need isolation build
// their own Manager with NewManager and call Register.
//
// Decoding uses New, which returns a pointer to a fresh zero payload:
//
//	v, err := topicmgr.Default().New("order.created") // *OrderCreatedEvent
package topicmgr
