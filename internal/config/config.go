package config

import "fmt"

type Config struct {
	Env                   string
	TranscribeServiceURL  string
	AnalysisServiceURL    string
	ServiceAuthToken      string
	AudioSource           string
	AudioFilePath         string
	FilePlayback          bool
	DatabaseURL           string
	AlertWebhookURL       string
	SessionType           string
	PrimaryConcern        string
	CurrentApproach       string
	MaxSessionDurationMin int
	StreamSettleDelayMS   int
	StopGraceDelayMS      int
	FrameIntervalMS       int
	AnalysisWordThreshold int
	AnalysisWindowMin     int
	AlertRetentionMin     int
}

func (c *Config) Validate() error {
	for _, req := range c.requiredFieldChecks() {
		if req.value == "" {
			return fmt.Errorf("%s is required", req.name)
		}
	}
	switch c.AudioSource {
	case "microphone":
	case "file":
		if c.AudioFilePath == "" {
			return fmt.Errorf("AUDIO_FILE_PATH is required when AUDIO_SOURCE=file")
		}
	default:
		return fmt.Errorf("AUDIO_SOURCE must be 'microphone' or 'file', got %q", c.AudioSource)
	}
	if c.MaxSessionDurationMin <= 0 {
		return fmt.Errorf("MAX_SESSION_DURATION_MIN must be positive, got %d", c.MaxSessionDurationMin)
	}
	if c.AnalysisWordThreshold <= 0 {
		return fmt.Errorf("ANALYSIS_WORD_THRESHOLD must be positive, got %d", c.AnalysisWordThreshold)
	}
	if c.AnalysisWindowMin <= 0 {
		return fmt.Errorf("ANALYSIS_WINDOW_MIN must be positive, got %d", c.AnalysisWindowMin)
	}
	if c.AlertRetentionMin <= 0 {
		return fmt.Errorf("ALERT_RETENTION_MIN must be positive, got %d", c.AlertRetentionMin)
	}
	if c.FrameIntervalMS <= 0 {
		return fmt.Errorf("FRAME_INTERVAL_MS must be positive, got %d", c.FrameIntervalMS)
	}
	if c.StreamSettleDelayMS < 0 || c.StopGraceDelayMS < 0 {
		return fmt.Errorf("settle and grace delays must not be negative")
	}
	return nil
}

type requiredEnvField struct {
	name  string
	value string
}

func (c *Config) requiredFieldChecks() []requiredEnvField {
	return []requiredEnvField{
		{name: "TRANSCRIBE_SERVICE_URL", value: c.TranscribeServiceURL},
		{name: "ANALYSIS_SERVICE_URL", value: c.AnalysisServiceURL},
		{name: "DATABASE_URL", value: c.DatabaseURL},
		{name: "AUDIO_SOURCE", value: c.AudioSource},
	}
}

func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}
