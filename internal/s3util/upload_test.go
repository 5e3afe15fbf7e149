package s3util

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
)

type fakePutter struct {
	input *s3.PutObjectInput
	body  []byte
	err   error
}

func (f *fakePutter) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.input = in
	f.body, _ = io.ReadAll(in.Body)
	if f.err != nil {
		return nil, f.err
	}
	return &s3.PutObjectOutput{}, nil
}

func TestObjectKey(t *testing.T) {
	tests := []struct {
		prefix, name, want string
	}{
		{"", "picwizard-batch.zip", "picwizard-batch.zip"},
		{"exports", "picwizard-batch.zip", "exports/picwizard-batch.zip"},
		{"/exports/2026/", "a.png", "exports/2026/a.png"},
	}
	for _, tt := range tests {
		if got := ObjectKey(tt.prefix, tt.name); got != tt.want {
			t.Errorf("ObjectKey(%q, %q) = %q, want %q", tt.prefix, tt.name, got, tt.want)
		}
	}
}

func TestUpload(t *testing.T) {
	fake := &fakePutter{}
	uri, err := Upload(context.Background(), fake, "bucket", "exports/a.zip", "application/zip", []byte("zipdata"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if uri != "s3://bucket/exports/a.zip" {
		t.Errorf("unexpected uri: %s", uri)
	}
	if *fake.input.Bucket != "bucket" || *fake.input.Key != "exports/a.zip" {
		t.Errorf("unexpected target: %s/%s", *fake.input.Bucket, *fake.input.Key)
	}
	if *fake.input.ContentType != "application/zip" {
		t.Errorf("unexpected content type: %s", *fake.input.ContentType)
	}
	if *fake.input.Tagging != "Project=picwizard" {
		t.Errorf("unexpected tagging: %s", *fake.input.Tagging)
	}
	if string(fake.body) != "zipdata" {
		t.Errorf("unexpected body: %q", fake.body)
	}
}

func TestUploadError(t *testing.T) {
	fake := &fakePutter{err: errors.New("access denied")}
	if _, err := Upload(context.Background(), fake, "b", "k", "application/zip", nil); err == nil {
		t.Error("expected error")
	}
}
