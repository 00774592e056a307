package mqtt

import "fmt"

// TopicPrefix is the root of the topics this service publishes about itself.
// Device topics (async/..., cmd/...) are owned by the router package.
const TopicPrefix = "poolfleet"

// Topics provides builders for the service's own MQTT topics.
type Topics struct{}

// Status returns the retained online/offline topic for a client.
//
// Example: poolfleet/poolfleet-01/status
func (Topics) Status(clientID string) string {
	return fmt.Sprintf("%s/%s/status", TopicPrefix, clientID)
}

// AllStatus matches the status topic of every client.
func (Topics) AllStatus() string {
	return TopicPrefix + "/+/status"
}
