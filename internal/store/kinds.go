package store

// Event kinds producers emit into the log.
const (
	KindBookFOP = "bidask_fop_v1"
	KindTickFOP = "tick_fop_v1"
	KindTickSTK = "tick_stk_v1"

	KindSessionStart = "session_start"
	KindSessionReady = "session_ready"
	KindSubscribeOK  = "subscribe_ok"
	KindSessionStop  = "session_stop"
	KindSessionError = "session_error"
)

// Asset classes used by bar keys.
const (
	AssetFOP = "FOP"
	AssetSTK = "STK"
	AssetSYS = "SYS"
	AssetUNK = "UNK"
)
