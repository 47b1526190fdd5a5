package connectors

const (
	TopicConnStatus  = "conn.status"
	TopicScanStarted = "scan.started"
	TopicScanResult  = "scan.result"
	TopicRawLineIn   = "raw.line.in"
	TopicRawLineOut  = "raw.line.out"
)
