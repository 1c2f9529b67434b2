package frame

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/ftrvxmtrx/tga"
	"github.com/pkg/errors"
	"golang.org/x/image/webp"
)

func testImage() *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, 8, 4))
	for y := 0; y < 4; y++ {
		for x := 0; x < 8; x++ {
			img.Set(x, y, color.RGBA{uint8(x * 30), uint8(y * 60), 128, 255})
		}
	}
	return img
}

func TestFormatFromPath(t *testing.T) {
	specs := []struct {
		path      string
		expFormat Format
		expErr    error
	}{
		{"out/frame.png", PNG, nil},
		{"FRAME.WEBP", WebP, nil},
		{"frame.tga", TGA, nil},
		{"frame.jpg", PNG, ErrUnsupportedFormat},
		{"frame", PNG, ErrUnsupportedFormat},
	}
	for specIndex, spec := range specs {
		format, err := FormatFromPath(spec.path)
		if errors.Cause(err) != spec.expErr {
			t.Fatalf("[spec %d] expected error %v; got %v", specIndex, spec.expErr, err)
		}
		if err == nil && format != spec.expFormat {
			t.Fatalf("[spec %d] expected format %s; got %s", specIndex, spec.expFormat, format)
		}
	}
}

func TestEncodeDecode(t *testing.T) {
	img := testImage()
	decoders := map[Format]func(*bytes.Reader) (image.Image, error){
		PNG:  func(r *bytes.Reader) (image.Image, error) { return png.Decode(r) },
		WebP: func(r *bytes.Reader) (image.Image, error) { return webp.Decode(r) },
		TGA:  func(r *bytes.Reader) (image.Image, error) { return tga.Decode(r) },
	}
	for format, decode := range decoders {
		var buf bytes.Buffer
		if err := Encode(&buf, img, format); err != nil {
			t.Fatalf("[%s] %v", format, err)
		}
		out, err := decode(bytes.NewReader(buf.Bytes()))
		if err != nil {
			t.Fatalf("[%s] %v", format, err)
		}
		if out.Bounds().Dx() != 8 || out.Bounds().Dy() != 4 {
			t.Fatalf("[%s] expected 8x4 image; got %v", format, out.Bounds())
		}
		r, g, b, _ := out.At(3, 2).RGBA()
		if r>>8 != 90 || g>>8 != 120 || b>>8 != 128 {
			t.Fatalf("[%s] expected pixel (90, 120, 128); got (%d, %d, %d)", format, r>>8, g>>8, b>>8)
		}
	}

	if err := Encode(ioutil.Discard, img, Format(42)); errors.Cause(err) != ErrUnsupportedFormat {
		t.Fatalf("expected ErrUnsupportedFormat; got %v", err)
	}
}

func TestEncodeForPath(t *testing.T) {
	if _, err := EncodeForPath(nil, "frame.png", 0); err != ErrNoFrame {
		t.Fatalf("expected ErrNoFrame; got %v", err)
	}

	enc, err := EncodeForPath(testImage(), "frame.png", 4)
	if err != nil {
		t.Fatal(err)
	}
	if enc.Width != 4 || enc.Height != 2 {
		t.Fatalf("expected a 4x2 frame; got %dx%d", enc.Width, enc.Height)
	}

	dir, err := ioutil.TempDir("", "vkrt-frame")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, "nested", "frame.png")
	if err = enc.WriteFile(path); err != nil {
		t.Fatal(err)
	}
	data, err := ioutil.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(data, enc.Data) {
		t.Fatal("expected the written file to match the encoded data")
	}
}

func TestScale(t *testing.T) {
	img := testImage()
	if Scale(img, 0) != image.Image(img) || Scale(img, 8) != image.Image(img) {
		t.Fatal("expected a zero or native width to return the input")
	}
	if b := Scale(img, 16).Bounds(); b.Dx() != 16 || b.Dy() != 8 {
		t.Fatalf("expected a 16x8 image; got %v", b)
	}
}

type putterMock struct {
	input *s3.PutObjectInput
	body  []byte
	err   error
}

func (m *putterMock) PutObjectWithContext(ctx aws.Context, input *s3.PutObjectInput, opts ...request.Option) (*s3.PutObjectOutput, error) {
	if _, ok := ctx.Deadline(); !ok {
		return nil, errors.New("expected the upload context to carry a deadline")
	}
	m.input = input
	m.body, _ = ioutil.ReadAll(input.Body)
	if m.err != nil {
		return nil, m.err
	}
	return &s3.PutObjectOutput{}, nil
}

func TestUpload(t *testing.T) {
	enc, err := EncodeForPath(testImage(), "frame.webp", 0)
	if err != nil {
		t.Fatal(err)
	}

	mock := &putterMock{}
	up := NewUploader(mock, "frames", "public-read")
	if err = up.Upload(context.Background(), enc, "runs/1/frame.webp"); err != nil {
		t.Fatal(err)
	}
	if aws.StringValue(mock.input.Bucket) != "frames" || aws.StringValue(mock.input.Key) != "runs/1/frame.webp" {
		t.Fatalf("unexpected destination %s/%s", aws.StringValue(mock.input.Bucket), aws.StringValue(mock.input.Key))
	}
	if aws.StringValue(mock.input.ContentType) != "image/webp" || aws.StringValue(mock.input.ACL) != "public-read" {
		t.Fatalf("unexpected content type %s or acl %s", aws.StringValue(mock.input.ContentType), aws.StringValue(mock.input.ACL))
	}
	if aws.Int64Value(mock.input.ContentLength) != int64(len(enc.Data)) || !bytes.Equal(mock.body, enc.Data) {
		t.Fatal("expected the uploaded body to match the encoded frame")
	}

	mock.err = errors.New("access denied")
	if err = up.Upload(context.Background(), enc, "k"); errors.Cause(err) != mock.err {
		t.Fatalf("expected the client error; got %v", err)
	}
	if err = up.Upload(context.Background(), nil, "k"); err != ErrNoFrame {
		t.Fatalf("expected ErrNoFrame; got %v", err)
	}
}
