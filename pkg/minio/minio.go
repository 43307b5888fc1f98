package minio

import (
	"context"

	"smallbiznis-licensing/pkg/config"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Client = fx.Module("minio.client", fx.Provide(registerClient))

// registerClient returns nil when no endpoint is configured; archiving is
// optional.
func registerClient(c *config.Config) (*minio.Client, error) {
	if c.Minio.Endpoint == "" {
		zap.L().Info("MinIO endpoint not configured, offline file archive disabled")
		return nil, nil
	}

	client, err := minio.New(c.Minio.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(c.Minio.AccessKey, c.Minio.SecretKey, ""),
		Secure: c.Minio.Secure,
	})
	if err != nil {
		zap.L().Error("failed to create MinIO client", zap.Error(err))
		return nil, err
	}

	bucket := Bucket(c)
	ctx := context.Background()
	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		zap.L().Warn("failed to check if bucket exists", zap.String("bucket", bucket), zap.Error(err))
		return client, nil
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			zap.L().Warn("failed to create bucket", zap.String("bucket", bucket), zap.Error(err))
		}
	}

	zap.L().Info("MinIO client initialized", zap.String("endpoint", c.Minio.Endpoint), zap.String("bucket", bucket))
	return client, nil
}

// Bucket is the bucket offline license files are archived to.
func Bucket(c *config.Config) string {
	if c.License.ArchiveBucket != "" {
		return c.License.ArchiveBucket
	}
	return c.Minio.BucketName
}
