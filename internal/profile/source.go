package profile

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// maxDocumentSize caps how much of a single document is read.
const maxDocumentSize = 20 << 20 // 20MB

// Source fetches the raw bytes of a named document. The returned location
// identifies where the document was found, for logging.
type Source interface {
	Fetch(ctx context.Context, name string) (data []byte, location string, err error)
}

// FileSource looks a document up in each directory in order and returns the
// first match. Absolute names are read as-is.
type FileSource struct {
	Dirs []string
}

// NewFileSource searches dir first, then the working directory.
func NewFileSource(dir string) FileSource {
	dirs := []string{"."}
	if dir != "" && dir != "." {
		dirs = []string{dir, "."}
	}
	return FileSource{Dirs: dirs}
}

func (s FileSource) Fetch(_ context.Context, name string) ([]byte, string, error) {
	if name == "" {
		return nil, "", fmt.Errorf("empty document name: %w", fs.ErrNotExist)
	}

	candidates := []string{name}
	if !filepath.IsAbs(name) {
		candidates = candidates[:0]
		for _, dir := range s.Dirs {
			candidates = append(candidates, filepath.Join(dir, name))
		}
	}

	for _, p := range candidates {
		f, err := os.Open(p)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, p, fmt.Errorf("opening %s: %w", p, err)
		}
		data, err := io.ReadAll(io.LimitReader(f, maxDocumentSize))
		f.Close()
		if err != nil {
			return nil, p, fmt.Errorf("reading %s: %w", p, err)
		}
		return data, p, nil
	}

	return nil, "", fmt.Errorf("%s not found in %v: %w", name, s.Dirs, fs.ErrNotExist)
}

// ObjectGetter is the subset of the S3 client used by S3Source.
type ObjectGetter interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Source reads documents from an S3 bucket; the document name is the object key.
type S3Source struct {
	Bucket string
	Client ObjectGetter
}

// NewS3Source builds an S3Source using the default AWS credential chain.
func NewS3Source(ctx context.Context, bucket, region string) (*S3Source, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}
	return &S3Source{Bucket: bucket, Client: s3.NewFromConfig(cfg)}, nil
}

func (s *S3Source) Fetch(ctx context.Context, key string) ([]byte, string, error) {
	location := fmt.Sprintf("s3://%s/%s", s.Bucket, key)
	if key == "" {
		return nil, location, fmt.Errorf("empty object key: %w", fs.ErrNotExist)
	}

	out, err := s.Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, location, fmt.Errorf("getting %s: %w", location, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(io.LimitReader(out.Body, maxDocumentSize))
	if err != nil {
		return nil, location, fmt.Errorf("reading %s: %w", location, err)
	}
	return data, location, nil
}
