package session

// NoopObserver implements Observer with no-ops. Useful as a default when no
// MITM-style observer collaborator is configured.
type NoopObserver struct{}

func (NoopObserver) OnPacketReceived(Direction, []byte, string) {}
func (NoopObserver) OnConnectionEstablished(string)              {}
func (NoopObserver) OnConnectionClosed(string)                   {}

var _ Observer = NoopObserver{}
