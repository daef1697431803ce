package config

// Constants defining default values for application configuration
const (
	DefaultDataDir   = "./data"
	DefaultBatchPath = "./tmp/news_batch.json"
	DefaultDBPath    = "./newsbatch.db"
	DefaultRulesPath = "" // Empty means built-in canonicalization rules

	DefaultTimezone = "Local"

	DefaultServerPort = 8080
	DefaultServerHost = "" // Empty string means all interfaces

	DefaultWorkerCount          = 0 // 0 means use runtime.NumCPU()
	DefaultInterval             = 0 // Minutes between runs, 0 means one-shot
	DefaultWatch                = false
	DefaultWatchDebounceMS      = 500
	DefaultJournalRetentionDays = 30

	DefaultLogLevel = "info"
)
