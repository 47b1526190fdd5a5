package app

const (
	Name           = "tailtest"
	ConfigFilename = "config.json"
	LogFilename    = "tailtest.log"
)
