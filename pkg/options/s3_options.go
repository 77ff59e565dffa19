package options

import (
	"fmt"

	"github.com/spf13/pflag"
)

var _ IOptions = (*S3Options)(nil)

// S3Options configures access to the S3-compatible object store that holds
// firmware images.
type S3Options struct {
	Endpoint        string `json:"endpoint" mapstructure:"endpoint"`
	AccessKeyID     string `json:"access-key-id" mapstructure:"access-key-id"`
	SecretAccessKey string `json:"secret-access-key" mapstructure:"secret-access-key"`
	UseSSL          bool   `json:"use-ssl" mapstructure:"use-ssl"`
	BucketName      string `json:"bucket-name" mapstructure:"bucket-name"`
	Region          string `json:"region" mapstructure:"region"`

	// InsecureSkipVerify accepts self-signed certificates on the object
	// store endpoint. Development convenience only.
	InsecureSkipVerify bool `json:"insecure-skip-verify" mapstructure:"insecure-skip-verify"`
}

// NewS3Options returns object store options matching the development
// docker-compose stack.
func NewS3Options() *S3Options {
	return &S3Options{
		Endpoint:        "s3.tidewatch.io",
		AccessKeyID:     "tidewatch",
		SecretAccessKey: "tidewatch-dev",
		UseSSL:          true,
		BucketName:      "firmware",
		Region:          "us-east-1",
	}
}

// Validate reports settings the storage provider cannot start with.
func (o *S3Options) Validate() []error {
	var errs []error

	if o.Endpoint == "" {
		errs = append(errs, fmt.Errorf("s3 endpoint is required"))
	}
	if o.BucketName == "" {
		errs = append(errs, fmt.Errorf("s3 bucket name is required"))
	}

	return errs
}

// AddFlags registers the object store flags on fs.
func (o *S3Options) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.StringVar(&o.Endpoint, "s3.endpoint", o.Endpoint, "Object store endpoint, host or host:port.")
	fs.StringVar(&o.AccessKeyID, "s3.access-key-id", o.AccessKeyID, "Access key for the object store.")
	fs.StringVar(&o.SecretAccessKey, "s3.secret-access-key", o.SecretAccessKey, "Secret key for the object store.")
	fs.BoolVar(&o.UseSSL, "s3.use-ssl", o.UseSSL, "Connect to the object store over TLS.")
	fs.BoolVar(&o.InsecureSkipVerify, "s3.insecure-skip-verify", o.InsecureSkipVerify, "Accept self-signed certificates on the object store endpoint.")
	fs.StringVar(&o.BucketName, "s3.bucket-name", o.BucketName, "Bucket that holds published firmware images.")
	fs.StringVar(&o.Region, "s3.region", o.Region, "Object store region.")
}
