package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
	internalconfig "github.com/foxseedlab/mimamorin/internal/config"
)

type envConfig struct {
	Env                   string `env:"ENV" envDefault:"production"`
	TranscribeServiceURL  string `env:"TRANSCRIBE_SERVICE_URL,required"`
	AnalysisServiceURL    string `env:"ANALYSIS_SERVICE_URL,required"`
	ServiceAuthToken      string `env:"SERVICE_AUTH_TOKEN"`
	AudioSource           string `env:"AUDIO_SOURCE" envDefault:"microphone"`
	AudioFilePath         string `env:"AUDIO_FILE_PATH"`
	FilePlayback          bool   `env:"AUDIO_FILE_PLAYBACK" envDefault:"true"`
	DatabaseURL           string `env:"DATABASE_URL,required"`
	AlertWebhookURL       string `env:"ALERT_WEBHOOK_URL"`
	SessionType           string `env:"SESSION_TYPE" envDefault:"General Therapy"`
	PrimaryConcern        string `env:"PRIMARY_CONCERN"`
	CurrentApproach       string `env:"CURRENT_APPROACH"`
	MaxSessionDurationMin int    `env:"MAX_SESSION_DURATION_MIN" envDefault:"120"`
	StreamSettleDelayMS   int    `env:"STREAM_SETTLE_DELAY_MS" envDefault:"500"`
	StopGraceDelayMS      int    `env:"STOP_GRACE_DELAY_MS" envDefault:"1000"`
	FrameIntervalMS       int    `env:"FRAME_INTERVAL_MS" envDefault:"100"`
	AnalysisWordThreshold int    `env:"ANALYSIS_WORD_THRESHOLD" envDefault:"10"`
	AnalysisWindowMin     int    `env:"ANALYSIS_WINDOW_MIN" envDefault:"5"`
	AlertRetentionMin     int    `env:"ALERT_RETENTION_MIN" envDefault:"10"`
}

func Load() (*internalconfig.Config, error) {
	var raw envConfig
	if err := env.Parse(&raw); err != nil {
		return nil, fmt.Errorf("environment variables are invalid or missing: %w", err)
	}

	cfg := &internalconfig.Config{
		Env:                   raw.Env,
		TranscribeServiceURL:  raw.TranscribeServiceURL,
		AnalysisServiceURL:    raw.AnalysisServiceURL,
		ServiceAuthToken:      raw.ServiceAuthToken,
		AudioSource:           raw.AudioSource,
		AudioFilePath:         raw.AudioFilePath,
		FilePlayback:          raw.FilePlayback,
		DatabaseURL:           raw.DatabaseURL,
		AlertWebhookURL:       raw.AlertWebhookURL,
		SessionType:           raw.SessionType,
		PrimaryConcern:        raw.PrimaryConcern,
		CurrentApproach:       raw.CurrentApproach,
		MaxSessionDurationMin: raw.MaxSessionDurationMin,
		StreamSettleDelayMS:   raw.StreamSettleDelayMS,
		StopGraceDelayMS:      raw.StopGraceDelayMS,
		FrameIntervalMS:       raw.FrameIntervalMS,
		AnalysisWordThreshold: raw.AnalysisWordThreshold,
		AnalysisWindowMin:     raw.AnalysisWindowMin,
		AlertRetentionMin:     raw.AlertRetentionMin,
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
