package license

//go:generate mockgen -source=archive.go -destination=mock_archive_test.go -package=license -exclude_interfaces=objectPutter

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"smallbiznis-licensing/pkg/config"
	pkgminio "smallbiznis-licensing/pkg/minio"

	"github.com/minio/minio-go/v7"
	"go.uber.org/fx"
)

// Archiver keeps a copy of every generated offline file outside the
// database.
type Archiver interface {
	Archive(ctx context.Context, licenseKey, content string, at time.Time) error
}

type objectPutter interface {
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

type MinioArchiver struct {
	client objectPutter
	bucket string
}

type ArchiverParams struct {
	fx.In
	Minio  *minio.Client `optional:"true"`
	Config *config.Config
}

func NewArchiver(p ArchiverParams) Archiver {
	if p.Minio == nil {
		return NopArchiver{}
	}
	return &MinioArchiver{client: p.Minio, bucket: pkgminio.Bucket(p.Config)}
}

func (a *MinioArchiver) Archive(ctx context.Context, licenseKey, content string, at time.Time) error {
	object := offlineObjectName(licenseKey, at)
	_, err := a.client.PutObject(ctx, a.bucket, object, strings.NewReader(content), int64(len(content)), minio.PutObjectOptions{
		ContentType: "text/plain",
		UserMetadata: map[string]string{
			"license-key": licenseKey,
		},
	})
	return err
}

// offlineObjectName returns "offline/{licenseKey}/{unixMillis}.lic".
func offlineObjectName(licenseKey string, at time.Time) string {
	return fmt.Sprintf("offline/%s/%d.lic", licenseKey, at.UnixMilli())
}

type NopArchiver struct{}

func (NopArchiver) Archive(context.Context, string, string, time.Time) error { return nil }
