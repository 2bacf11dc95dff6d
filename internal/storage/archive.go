// Package storage archives rotated observer logs to S3-compatible object
// storage. zloggerd rotates the raw log on shutdown and hands the rotated
// file here; the local copy is kept, upload is best-effort durability.
package storage

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"path"
	"path/filepath"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Default timeouts for object storage operations.
const (
	DefaultMetadataTimeout = 10 * time.Second
	DefaultDataTimeout     = 60 * time.Second
)

// Config holds connection settings for the log archive bucket.
type Config struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`

	// Prefix is prepended to every archived object key, typically the
	// observer's name so several zloggerd instances can share one bucket.
	Prefix string `yaml:"prefix"`

	// MetadataTimeout bounds list/stat/remove calls. Defaults to 10s.
	MetadataTimeout time.Duration `yaml:"metadata_timeout"`
	// DataTimeout bounds uploads and downloads. Defaults to 60s.
	DataTimeout time.Duration `yaml:"data_timeout"`
}

// Enabled reports whether an archive endpoint is configured at all.
func (c Config) Enabled() bool { return c.Endpoint != "" }

// Archive is a connected log archive.
type Archive struct {
	client          *minio.Client
	bucket          string
	prefix          string
	metadataTimeout time.Duration
	dataTimeout     time.Duration
}

// LogInfo describes one archived log object.
type LogInfo struct {
	Key      string    `json:"key"`
	Size     int64     `json:"size"`
	Modified time.Time `json:"modified"`
}

// New connects to the archive bucket, creating it if missing.
func New(ctx context.Context, cfg Config) (*Archive, error) {
	metadataTimeout := cfg.MetadataTimeout
	if metadataTimeout == 0 {
		metadataTimeout = DefaultMetadataTimeout
	}
	dataTimeout := cfg.DataTimeout
	if dataTimeout == 0 {
		dataTimeout = DefaultDataTimeout
	}

	// ResponseHeaderTimeout bounds the wait for the server to start
	// replying, not the full transfer.
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   5 * time.Second,
		ResponseHeaderTimeout: metadataTimeout,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   100,
		IdleConnTimeout:       90 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:     credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:    cfg.UseSSL,
		Transport: transport,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	a := &Archive{
		client:          client,
		bucket:          cfg.Bucket,
		prefix:          cfg.Prefix,
		metadataTimeout: metadataTimeout,
		dataTimeout:     dataTimeout,
	}
	if err := a.ensureBucket(ctx); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *Archive) ensureBucket(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, a.metadataTimeout)
	defer cancel()

	exists, err := a.client.BucketExists(ctx, a.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", a.bucket, err)
	}
	if !exists {
		if err := a.client.MakeBucket(ctx, a.bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("create bucket %s: %w", a.bucket, err)
		}
	}
	return nil
}

// Key returns the object key a local log file archives under.
func (a *Archive) Key(localPath string) string {
	return path.Join(a.prefix, filepath.Base(localPath))
}

// Put uploads one rotated log file and returns its object key.
func (a *Archive) Put(ctx context.Context, localPath string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, a.dataTimeout)
	defer cancel()

	key := a.Key(localPath)
	_, err := a.client.FPutObject(ctx, a.bucket, key, localPath, minio.PutObjectOptions{
		ContentType: "text/plain",
	})
	if err != nil {
		return "", fmt.Errorf("archive %s: %w", localPath, err)
	}
	return key, nil
}

// List returns the archived logs under the configured prefix.
func (a *Archive) List(ctx context.Context) ([]LogInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, a.metadataTimeout)
	defer cancel()

	opts := minio.ListObjectsOptions{Prefix: a.prefix, Recursive: true}
	logs := make([]LogInfo, 0)
	for obj := range a.client.ListObjects(ctx, a.bucket, opts) {
		if obj.Err != nil {
			return nil, fmt.Errorf("list archived logs: %w", obj.Err)
		}
		logs = append(logs, LogInfo{Key: obj.Key, Size: obj.Size, Modified: obj.LastModified})
	}
	return logs, nil
}

// Fetch streams one archived log to w.
func (a *Archive) Fetch(ctx context.Context, key string, w io.Writer) error {
	ctx, cancel := context.WithTimeout(ctx, a.dataTimeout)
	defer cancel()

	obj, err := a.client.GetObject(ctx, a.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return fmt.Errorf("get %s: %w", key, err)
	}
	defer obj.Close()

	if _, err := io.Copy(w, obj); err != nil {
		return fmt.Errorf("read %s: %w", key, err)
	}
	return nil
}

// Remove deletes one archived log. Removing a missing key is not an error.
func (a *Archive) Remove(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, a.metadataTimeout)
	defer cancel()

	if err := a.client.RemoveObject(ctx, a.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("remove %s: %w", key, err)
	}
	return nil
}
