// Package messaging provides a broker-agnostic API for publishing and
// consuming messages.
//
// The goal is to keep business code independent from the underlying messaging
// system (Kafka, NATS). The audit sink publishes challenge and delivery events
// through the Publisher interface; downstream consumers can rely on Consumer
// without caring which broker carries the stream.
package messaging
