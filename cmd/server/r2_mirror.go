package main

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/CoreyShupe/BentoBox/internal/persistence/r2s3"
)

func buildMirror(dataDir string, logger *log.Logger) (*r2s3.Mirror, error) {
	if !envBool("BB_R2_MIRROR", false) {
		return nil, nil
	}

	endpoint := strings.TrimSpace(os.Getenv("BB_R2_ENDPOINT"))
	bucket := strings.TrimSpace(os.Getenv("BB_R2_BUCKET"))
	accessKeyID := strings.TrimSpace(os.Getenv("BB_R2_ACCESS_KEY_ID"))
	secretAccessKey := strings.TrimSpace(os.Getenv("BB_R2_SECRET_ACCESS_KEY"))
	prefix := strings.TrimSpace(os.Getenv("BB_R2_PREFIX"))

	if endpoint == "" || bucket == "" || accessKeyID == "" || secretAccessKey == "" {
		return nil, fmt.Errorf("BB_R2_MIRROR=true but BB_R2_ENDPOINT/BB_R2_BUCKET/BB_R2_ACCESS_KEY_ID/BB_R2_SECRET_ACCESS_KEY are not fully set")
	}

	client, err := r2s3.New(endpoint, bucket, accessKeyID, secretAccessKey)
	if err != nil {
		return nil, err
	}

	return r2s3.NewMirror(
		client,
		dataDir,
		prefix,
		envInt("BB_R2_UPLOAD_WORKERS", 2),
		envInt("BB_R2_QUEUE_CAPACITY", 2048),
		time.Duration(envInt("BB_R2_ENQUEUE_WAIT_MS", 25))*time.Millisecond,
		logger,
	), nil
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
