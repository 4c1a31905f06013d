package pipeline

// Stage names the pipeline step a job is currently in. The orchestrator sets
// it at the start of each step so a failure can be attributed precisely
// instead of inferred from which intermediate values happen to exist.
type Stage string

const (
	StageCacheProbe    Stage = "cache_probe"
	StageDownload      Stage = "download"
	StageExtraction    Stage = "audio_extraction"
	StageTranscription Stage = "transcription"
	StageSummary       Stage = "summary"
	StageDelivery      Stage = "delivery"
)
