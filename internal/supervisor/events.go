package supervisor

import (
	"encoding/json"
	"log"
	"time"
)

// logEvent emits one structured JSON line for a lifecycle event.
func logEvent(eventType string, data map[string]interface{}) {
	logLevel("info", eventType, data)
}

func logLevel(level, eventType string, data map[string]interface{}) {
	if data == nil {
		data = make(map[string]interface{})
	}
	data["timestamp"] = time.Now().UTC().Format(time.RFC3339)
	data["level"] = level
	data["component"] = "supervisor"
	data["event_type"] = eventType

	jsonData, err := json.Marshal(data)
	if err != nil {
		log.Printf("[Supervisor] Failed to marshal log event: %v", err)
		return
	}

	log.Println(string(jsonData))
}
