package gwconfig

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"gopkg.in/yaml.v3"
)

// Source is the configuration-source boundary the core consumes (spec §1:
// "a configuration-source interface [is] the only boundary the core
// consumes" besides the log sink). Load returns the raw decoded document
// along with a fingerprint that changes whenever the underlying bytes
// change, so the watcher can cheaply decide whether to reload.
type Source interface {
	// Load fetches and decodes the current configuration document.
	Load(ctx context.Context) (*AppConfig, string, error)
}

// FileSource reads a YAML document from the local filesystem.
type FileSource struct {
	Path string
}

// NewFileSource constructs a Source backed by a path on disk.
func NewFileSource(path string) *FileSource {
	return &FileSource{Path: path}
}

// Load implements Source.
func (f *FileSource) Load(_ context.Context) (*AppConfig, string, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, "", fmt.Errorf("gwconfig: read %s: %w", f.Path, err)
	}
	cfg, err := decode(data)
	if err != nil {
		return nil, "", err
	}
	fp, err := fingerprintFile(f.Path)
	if err != nil {
		fp = string(data)
	}
	return cfg, fp, nil
}

func fingerprintFile(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%d-%d", info.ModTime().UnixNano(), info.Size()), nil
}

// ObjectStoreSource reads the configuration YAML document from an S3-compatible
// object store via minio-go, exercising the "configuration source" boundary
// for deployments that centralize config outside the local filesystem.
type ObjectStoreSource struct {
	client *minio.Client
	bucket string
	key    string
}

// NewObjectStoreSource builds a Source backed by an S3-compatible bucket/key.
func NewObjectStoreSource(endpoint, accessKey, secretKey, bucket, key string, useSSL bool) (*ObjectStoreSource, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("gwconfig: minio client: %w", err)
	}
	return &ObjectStoreSource{client: client, bucket: bucket, key: key}, nil
}

// Load implements Source.
func (o *ObjectStoreSource) Load(ctx context.Context) (*AppConfig, string, error) {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	obj, err := o.client.GetObject(ctx, o.bucket, o.key, minio.GetObjectOptions{})
	if err != nil {
		return nil, "", fmt.Errorf("gwconfig: get object %s/%s: %w", o.bucket, o.key, err)
	}
	defer obj.Close()

	stat, err := obj.Stat()
	if err != nil {
		return nil, "", fmt.Errorf("gwconfig: stat object %s/%s: %w", o.bucket, o.key, err)
	}

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, "", fmt.Errorf("gwconfig: read object %s/%s: %w", o.bucket, o.key, err)
	}
	cfg, err := decode(data)
	if err != nil {
		return nil, "", err
	}
	return cfg, stat.ETag, nil
}

func decode(data []byte) (*AppConfig, error) {
	var cfg AppConfig
	// Pre-seeded so an omitted cooldown_period keeps the default while an
	// explicit 0 (no freeze) still decodes as 0.
	cfg.Preferences.CooldownPeriodSeconds = defaultCooldownPeriod
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("gwconfig: decode yaml: %w", err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
