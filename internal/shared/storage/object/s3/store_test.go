package s3

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
)

type fakeS3 struct {
	objects map[string]string
	puts    []*s3.PutObjectInput
	putErr  error
}

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.putErr != nil {
		return nil, f.putErr
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.objects[aws.ToString(in.Key)] = string(data)
	f.puts = append(f.puts, in)
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	data, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &s3types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(strings.NewReader(data))}, nil
}

func (f *fakeS3) DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	delete(f.objects, aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func TestApplyPrefix(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		prefix string
		key    string
		want   string
	}{
		{name: "no prefix", prefix: "", key: "user/cv.pdf", want: "user/cv.pdf"},
		{name: "prefix", prefix: "uploads", key: "user/cv.pdf", want: "uploads/user/cv.pdf"},
		{name: "slashes", prefix: "/uploads/", key: "/user/cv.pdf", want: "uploads/user/cv.pdf"},
		{name: "empty key", prefix: "uploads", key: "", want: "uploads"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := applyPrefix(tt.prefix, tt.key); got != tt.want {
				t.Fatalf("applyPrefix(%q, %q) = %q, want %q", tt.prefix, tt.key, got, tt.want)
			}
		})
	}
}

func TestPutUsesPrefixAndEncryption(t *testing.T) {
	fake := &fakeS3{objects: map[string]string{}}
	s := newWithClient(fake, "cvs", "/uploads/", "kms-key")

	n, err := s.Put(context.Background(), "u/doc_cv.pdf", "application/pdf", strings.NewReader("pdfdata"))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if n != 7 {
		t.Fatalf("expected 7 bytes counted, got %d", n)
	}
	in := fake.puts[0]
	if aws.ToString(in.Key) != "uploads/u/doc_cv.pdf" {
		t.Fatalf("unexpected key %q", aws.ToString(in.Key))
	}
	if in.ServerSideEncryption != s3types.ServerSideEncryptionAwsKms || aws.ToString(in.SSEKMSKeyId) != "kms-key" {
		t.Fatalf("expected kms encryption, got %v", in.ServerSideEncryption)
	}

	rc, err := s.Open(context.Background(), "u/doc_cv.pdf")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	data, _ := io.ReadAll(rc)
	if string(data) != "pdfdata" {
		t.Fatalf("unexpected content %q", data)
	}

	if err := s.Delete(context.Background(), "u/doc_cv.pdf"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok := fake.objects["uploads/u/doc_cv.pdf"]; ok {
		t.Fatalf("object not deleted")
	}
}

func TestPutDefaultsToAES(t *testing.T) {
	fake := &fakeS3{objects: map[string]string{}}
	s := newWithClient(fake, "cvs", "", "")
	if _, err := s.Put(context.Background(), "k", "", strings.NewReader("x")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if fake.puts[0].ServerSideEncryption != s3types.ServerSideEncryptionAes256 {
		t.Fatalf("expected AES256, got %v", fake.puts[0].ServerSideEncryption)
	}
}

func TestPutWrapsClientError(t *testing.T) {
	boom := errors.New("boom")
	s := newWithClient(&fakeS3{objects: map[string]string{}, putErr: boom}, "cvs", "", "")
	if _, err := s.Put(context.Background(), "k", "", strings.NewReader("x")); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped error, got %v", err)
	}
}
