package config

// Default buffer sizes. No code in this module reads these constants.
const (
	DefaultResultBufferSize = 256
	DefaultEventBufferSize  = 1024
)
