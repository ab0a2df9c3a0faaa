// Package blob provides S3-compatible object storage for archives,
// attachment content, and offloaded message bodies.
package blob

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"syscall"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Client defines the object storage operations the pipeline needs.
type Client interface {
	// EnsureBucket creates the bucket if it does not exist.
	EnsureBucket(ctx context.Context, bucket string) error
	// Put stores an object. Content is streamed from r; size must match.
	Put(ctx context.Context, bucket, key string, r io.Reader, size int64, contentType string) error
	// Get reads an object fully into memory.
	Get(ctx context.Context, bucket, key string) ([]byte, error)
	// Exists reports whether an object is already stored.
	Exists(ctx context.Context, bucket, key string) (bool, error)
	// FetchToFile streams an object to a file under dir and returns the
	// local path. Free disk space is checked against the object size first.
	FetchToFile(ctx context.Context, bucket, key, dir string) (string, error)
}

// Config holds connection settings for the object store.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
}

// MinioClient implements Client against any S3-compatible endpoint.
type MinioClient struct {
	mc *minio.Client
}

// New creates a MinioClient.
func New(cfg Config) (*MinioClient, error) {
	mc, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, eris.Wrap(err, "blob: create client")
	}
	return &MinioClient{mc: mc}, nil
}

func (c *MinioClient) EnsureBucket(ctx context.Context, bucket string) error {
	exists, err := c.mc.BucketExists(ctx, bucket)
	if err != nil {
		return eris.Wrapf(err, "blob: check bucket %s", bucket)
	}
	if exists {
		return nil
	}
	if err := c.mc.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
		return eris.Wrapf(err, "blob: create bucket %s", bucket)
	}
	zap.L().Info("blob: created bucket", zap.String("bucket", bucket))
	return nil
}

func (c *MinioClient) Put(ctx context.Context, bucket, key string, r io.Reader, size int64, contentType string) error {
	_, err := c.mc.PutObject(ctx, bucket, key, r, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	return eris.Wrapf(err, "blob: put %s/%s", bucket, key)
}

func (c *MinioClient) Get(ctx context.Context, bucket, key string) ([]byte, error) {
	obj, err := c.mc.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, eris.Wrapf(err, "blob: get %s/%s", bucket, key)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, eris.Wrapf(err, "blob: read %s/%s", bucket, key)
	}
	return data, nil
}

func (c *MinioClient) Exists(ctx context.Context, bucket, key string) (bool, error) {
	_, err := c.mc.StatObject(ctx, bucket, key, minio.StatObjectOptions{})
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return false, nil
		}
		return false, eris.Wrapf(err, "blob: stat %s/%s", bucket, key)
	}
	return true, nil
}

func (c *MinioClient) FetchToFile(ctx context.Context, bucket, key, dir string) (string, error) {
	stat, err := c.mc.StatObject(ctx, bucket, key, minio.StatObjectOptions{})
	if err != nil {
		return "", eris.Wrapf(err, "blob: stat %s/%s", bucket, key)
	}

	if err := checkDiskSpace(dir, stat.Size); err != nil {
		return "", err
	}

	dest := filepath.Join(dir, filepath.Base(key))
	if err := c.mc.FGetObject(ctx, bucket, key, dest, minio.GetObjectOptions{}); err != nil {
		return "", eris.Wrapf(err, "blob: fetch %s/%s", bucket, key)
	}
	zap.L().Info("blob: fetched archive",
		zap.String("key", key),
		zap.Int64("size_bytes", stat.Size),
		zap.String("dest", dest))
	return dest, nil
}

// diskSpaceMargin is the extra free space required beyond the object
// size, so extraction working files do not fill the volume.
const diskSpaceMargin = 1 << 30

func checkDiskSpace(dir string, need int64) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return eris.Wrapf(err, "blob: create work dir %s", dir)
	}
	var fs syscall.Statfs_t
	if err := syscall.Statfs(dir, &fs); err != nil {
		return eris.Wrapf(err, "blob: statfs %s", dir)
	}
	free := int64(fs.Bavail) * int64(fs.Bsize)
	if free < need+diskSpaceMargin {
		return eris.Errorf("blob: insufficient disk space in %s: need %d bytes plus margin, have %d", dir, need, free)
	}
	return nil
}

// AttachmentKey returns the content-addressed storage key for an
// attachment: fanned out by the first two hash characters.
func AttachmentKey(hash string) string {
	if len(hash) < 2 {
		return "attachments/" + hash
	}
	return "attachments/" + hash[:2] + "/" + hash
}

// BodyKey returns the storage key for an offloaded message body.
func BodyKey(emailID string) string {
	return "bodies/" + emailID + ".txt"
}
