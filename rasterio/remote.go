package rasterio

import (
	"context"
	"io"
	"net/http"
	"os"
	"path"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/pdok/geopipe/httpclient"
	"github.com/pdok/geopipe/logging"
)

// HTTPClient is used by drivers that need a local copy of a remote source.
var HTTPClient = httpclient.NewOutbound()

func isRemote(address string) bool {
	return strings.HasPrefix(address, "http://") || strings.HasPrefix(address, "https://")
}

// localCopy downloads a remote address into a temporary file. The returned
// cleanup removes it again; for local addresses it does nothing.
func localCopy(ctx context.Context, address string) (string, func(), error) {
	if !isRemote(address) {
		return address, func() {}, nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, address, nil)
	if err != nil {
		return "", nil, err
	}
	resp, err := HTTPClient.Do(req)
	if err != nil {
		return "", nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", nil, errors.Newf("GET %s: %s", address, resp.Status)
	}
	name := path.Base(strings.SplitN(address, "?", 2)[0])
	f, err := os.CreateTemp("", "geopipe-*-"+name)
	if err != nil {
		return "", nil, err
	}
	cleanup := func() { _ = os.Remove(f.Name()) }
	n, err := io.Copy(f, resp.Body)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		cleanup()
		return "", nil, errors.Wrapf(err, "downloading %s", address)
	}
	logging.FromContext(ctx).Debug().Int64("bytes", n).Str("file", f.Name()).Msg("downloaded remote raster")
	return f.Name(), cleanup, nil
}
