package models

// ConnectionState - состояние сессии с брокером
//
// Переходы выполняет только Connection Resilience Manager,
// остальные компоненты читают состояние, но не меняют его.
type ConnectionState int32

const (
	ConnDisconnected ConnectionState = iota
	ConnConnecting
	ConnConnected
	ConnDegraded
)

func (s ConnectionState) String() string {
	switch s {
	case ConnDisconnected:
		return "disconnected"
	case ConnConnecting:
		return "connecting"
	case ConnConnected:
		return "connected"
	case ConnDegraded:
		return "degraded"
	default:
		return "unknown"
	}
}
