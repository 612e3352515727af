package session

// Hooks receives session lifecycle notifications, typically to mirror state
// into persistent storage. Implementations must tolerate being called from
// separate goroutines and must not call back into the Manager.
type Hooks interface {
	OnCreate(s Session)
	OnTitle(sessionID, title string)
	OnProgress(sessionID string, progress float64)
	OnStateChange(s Session)
}
