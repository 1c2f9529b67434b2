package asset

import (
	"io"
	"io/ioutil"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

var ErrUnsupportedScheme = errors.New("resource: unsupported scheme")

// Resource wraps a local file or a file streamed over http(s). Scene files
// and the OBJ meshes they reference are both opened as resources so a
// remote scene can reference meshes relative to its own URL.
type Resource struct {
	io.ReadCloser
	url *url.URL
}

// The path or URL of the resource.
func (r *Resource) Path() string {
	return r.url.String()
}

// The file name of the resource without its directory.
func (r *Resource) Name() string {
	if r.IsRemote() {
		return filepath.Base(r.url.Path)
	}
	return filepath.Base(r.Path())
}

// Returns true if the resource is streamed over http/https.
func (r *Resource) IsRemote() bool {
	return r.url.Scheme != ""
}

// Open a resource. If relTo is not nil and pathToResource has no scheme,
// the path is resolved against the directory of relTo.
//
// The caller must close the returned resource.
func NewResource(pathToResource string, relTo *Resource) (*Resource, error) {
	resURL, err := url.Parse(strings.Replace(pathToResource, `\`, `/`, -1))
	if err != nil {
		return nil, errors.Wrapf(err, "resource: invalid path %q", pathToResource)
	}

	if resURL.Scheme == "" && relTo != nil && !filepath.IsAbs(resURL.Path) {
		relPath := resURL.Path
		resURL, _ = url.Parse(relTo.url.String())
		prefix := resURL.Path
		if resURL.Scheme == "" {
			if prefix, err = filepath.Abs(relTo.url.String()); err != nil {
				return nil, errors.Wrapf(err, "resource: could not detect abs path for %s", relTo.url.String())
			}
		}
		resURL.Path = strings.TrimSuffix(filepath.Dir(prefix), "/") + "/" + relPath
	}

	var reader io.ReadCloser
	switch resURL.Scheme {
	case "":
		if reader, err = os.Open(filepath.Clean(resURL.Path)); err != nil {
			return nil, errors.Wrap(err, "resource")
		}
	case "http", "https":
		resp, err := http.Get(resURL.String())
		if err != nil {
			return nil, errors.Wrapf(err, "resource: could not fetch '%s'", resURL.String())
		}
		if resp.StatusCode >= 400 {
			resp.Body.Close()
			return nil, errors.Errorf("resource: could not fetch '%s': status %d", resURL.String(), resp.StatusCode)
		}
		reader = resp.Body
	default:
		return nil, errors.Wrapf(ErrUnsupportedScheme, "'%s'", resURL.Scheme)
	}

	return &Resource{
		ReadCloser: reader,
		url:        resURL,
	}, nil
}

// Create a resource from a reader.
func NewResourceFromStream(name string, source io.Reader) *Resource {
	resURL, _ := url.Parse(name)
	return &Resource{
		ReadCloser: ioutil.NopCloser(source),
		url:        resURL,
	}
}

// Get a local file with the resource contents. Local resources return
// their own path; other resources are copied to a temporary file that the
// returned cleanup function removes. Loaders that only accept file paths
// use this to read remote meshes.
func (r *Resource) LocalFile() (string, func(), error) {
	if !r.IsRemote() {
		if _, err := os.Stat(r.Path()); err == nil {
			return r.Path(), func() {}, nil
		}
	}

	f, err := ioutil.TempFile("", "vkrt-*-"+r.Name())
	if err != nil {
		return "", nil, errors.Wrap(err, "resource: could not create temp file")
	}
	cleanup := func() { os.Remove(f.Name()) }
	_, err = io.Copy(f, r)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		cleanup()
		return "", nil, errors.Wrapf(err, "resource: could not copy %s", r.Path())
	}
	return f.Name(), cleanup, nil
}
