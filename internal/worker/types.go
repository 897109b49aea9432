package worker

// MessageSweep asks the worker to deliver every order whose estimated date has passed.
const MessageSweep = "orders.sweep"

// Envelope is the part of every queue body used for routing. Status change bodies are the
// JSON form of orders.StatusChanged.
type Envelope struct {
	Type string `json:"type"`
}
