package blackboard

import "fmt"

// Redis key pattern helpers for the Mirror.
//
// All Redis keys and Pub/Sub channels are namespaced by instance name so that
// several warren processes can share one Redis server.
//
// Key pattern: warren:{instance_name}:bb:{blackboard_key}
// Channel pattern: warren:{instance_name}:blackboard_events

// MirrorKey returns the Redis key holding the mirrored copy of a blackboard entry.
// Pattern: warren:{instance_name}:bb:{key}
func MirrorKey(instanceName, key string) string {
	return fmt.Sprintf("warren:%s:bb:%s", instanceName, key)
}

// MirrorKeyPattern returns a SCAN pattern matching every mirrored entry of an instance.
// Pattern: warren:{instance_name}:bb:*
func MirrorKeyPattern(instanceName string) string {
	return fmt.Sprintf("warren:%s:bb:*", instanceName)
}

// BlackboardEventsChannel returns the Pub/Sub channel carrying mirrored writes.
// Pattern: warren:{instance_name}:blackboard_events
func BlackboardEventsChannel(instanceName string) string {
	return fmt.Sprintf("warren:%s:blackboard_events", instanceName)
}
