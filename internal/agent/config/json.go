package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/fieldsnap/fieldsnap/internal/flagx"
	"github.com/fieldsnap/fieldsnap/internal/timex"
)

// JsonConfig is a DTO used exclusively for JSON unmarshalling. Durations
// rely on timex.Duration so JSON can specify them either as strings like
// "3s" or as integer nanoseconds.
type JsonConfig struct {
	ServerEndpointAddr  *string         `json:"server_endpoint_addr"`
	OnlineCheckInterval *timex.Duration `json:"online_check_interval"`
	QueueDBPath         *string         `json:"queue_db_path"`
	MaxQueueItems       *int            `json:"max_queue_items"`
	MaxQueueBytes       *int64          `json:"max_queue_bytes"`
	InboxDir            *string         `json:"inbox_dir"`
	InboxJobID          *string         `json:"inbox_job_id"`
	UploadConcurrency   *int            `json:"upload_concurrency"`
	MaxAttempts         *int            `json:"max_attempts"`
	BackoffBase         *timex.Duration `json:"backoff_base"`
	BackoffCap          *timex.Duration `json:"backoff_cap"`
	PreviewDir          *string         `json:"preview_dir"`
	TokenFile           *string         `json:"token_file"`
	S3Endpoint          *string         `json:"s3_endpoint"`
	S3Region            *string         `json:"s3_region"`
	S3Bucket            *string         `json:"s3_bucket"`
	S3AccessKey         *string         `json:"s3_access_key"`
	S3SecretKey         *string         `json:"s3_secret_key"`
}

// parseJson overlays cfg with values from the JSON file named by -c or
// -config. Absent fields keep their current values. Read or unmarshal
// errors panic, matching flag parse failures.
func parseJson(cfg *Config) {
	jsonConfigFile := flagx.JsonConfigFlags()
	if jsonConfigFile == "" {
		return
	}

	data, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}
	var jc JsonConfig
	if err := json.Unmarshal(data, &jc); err != nil {
		panic(err)
	}

	if jc.ServerEndpointAddr != nil {
		cfg.ServerEndpointAddr = *jc.ServerEndpointAddr
	}
	if jc.OnlineCheckInterval != nil {
		cfg.OnlineCheckInterval = time.Duration(jc.OnlineCheckInterval.Duration)
	}
	if jc.QueueDBPath != nil {
		cfg.QueueDBPath = *jc.QueueDBPath
	}
	if jc.MaxQueueItems != nil {
		cfg.MaxQueueItems = *jc.MaxQueueItems
	}
	if jc.MaxQueueBytes != nil {
		cfg.MaxQueueBytes = *jc.MaxQueueBytes
	}
	if jc.InboxDir != nil {
		cfg.InboxDir = *jc.InboxDir
	}
	if jc.InboxJobID != nil {
		cfg.InboxJobID = *jc.InboxJobID
	}
	if jc.UploadConcurrency != nil {
		cfg.UploadConcurrency = *jc.UploadConcurrency
	}
	if jc.MaxAttempts != nil {
		cfg.MaxAttempts = *jc.MaxAttempts
	}
	if jc.BackoffBase != nil {
		cfg.BackoffBase = time.Duration(jc.BackoffBase.Duration)
	}
	if jc.BackoffCap != nil {
		cfg.BackoffCap = time.Duration(jc.BackoffCap.Duration)
	}
	if jc.PreviewDir != nil {
		cfg.PreviewDir = *jc.PreviewDir
	}
	if jc.TokenFile != nil {
		cfg.TokenFile = *jc.TokenFile
	}
	if jc.S3Endpoint != nil {
		cfg.S3Endpoint = *jc.S3Endpoint
	}
	if jc.S3Region != nil {
		cfg.S3Region = *jc.S3Region
	}
	if jc.S3Bucket != nil {
		cfg.S3Bucket = *jc.S3Bucket
	}
	if jc.S3AccessKey != nil {
		cfg.S3AccessKey = *jc.S3AccessKey
	}
	if jc.S3SecretKey != nil {
		cfg.S3SecretKey = *jc.S3SecretKey
	}
}
