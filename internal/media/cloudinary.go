package media

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/cloudinary/cloudinary-go/v2"
	"github.com/cloudinary/cloudinary-go/v2/api"
	"github.com/cloudinary/cloudinary-go/v2/api/uploader"
)

// CloudinaryUploader stores assets with the Cloudinary upload API.
type CloudinaryUploader struct {
	cld    *cloudinary.Cloudinary
	folder string
}

// NewCloudinaryUploader creates an uploader for the given account. Assets
// are stored under folder.
func NewCloudinaryUploader(cloudName, apiKey, apiSecret, folder string) (*CloudinaryUploader, error) {
	cld, err := cloudinary.NewFromParams(cloudName, apiKey, apiSecret)
	if err != nil {
		return nil, fmt.Errorf("creating cloudinary client: %w", err)
	}
	return &CloudinaryUploader{cld: cld, folder: strings.Trim(folder, "/")}, nil
}

// Upload sends data under a public id derived from key. Vectors keep a fixed
// output format; rasters are delivered with automatic quality and format.
func (u *CloudinaryUploader) Upload(ctx context.Context, key string, data []byte, _ string, opts UploadOptions) (string, error) {
	params := uploader.UploadParams{
		PublicID:       path.Join(u.folder, key),
		Overwrite:      api.Bool(true),
		UniqueFilename: api.Bool(false),
		Format:         opts.Format,
	}

	res, err := u.cld.Upload.Upload(ctx, bytes.NewReader(data), params)
	if err != nil {
		return "", fmt.Errorf("uploading %s: %w", key, err)
	}
	if res.Error.Message != "" {
		return "", fmt.Errorf("uploading %s: %s", key, res.Error.Message)
	}
	if res.SecureURL == "" {
		return "", fmt.Errorf("uploading %s: empty url in response", key)
	}
	return deliveryURL(res.SecureURL, opts), nil
}

// deliveryURL adds the q_auto and f_auto delivery transformations requested
// by opts to an upload URL.
func deliveryURL(secureURL string, opts UploadOptions) string {
	var flags []string
	if opts.Quality != "" {
		flags = append(flags, "q_"+opts.Quality)
	}
	if opts.FetchFormat != "" {
		flags = append(flags, "f_"+opts.FetchFormat)
	}
	if len(flags) == 0 {
		return secureURL
	}
	const marker = "/upload/"
	i := strings.Index(secureURL, marker)
	if i < 0 {
		return secureURL
	}
	return secureURL[:i+len(marker)] + strings.Join(flags, ",") + "/" + secureURL[i+len(marker):]
}
