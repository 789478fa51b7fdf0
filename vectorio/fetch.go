package vectorio

import (
	"archive/zip"
	"bytes"
	"context"
	"io"
	"net/http"
	"os"
	"path"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/pdok/geopipe/httpclient"
)

// leaf returns the path of the member an address points at, looking through
// archive and remote prefixes.
func leaf(address string) string {
	if _, member, ok := splitArchive(address); ok {
		return member
	}
	address = strings.TrimPrefix(address, "/vsicurl/")
	if i := strings.IndexAny(address, "?#"); i >= 0 && isRemote(address) {
		address = address[:i]
	}
	return address
}

func isRemote(address string) bool {
	return strings.HasPrefix(address, "http://") || strings.HasPrefix(address, "https://")
}

// splitArchive understands "/vsizip/<archive>.zip/<member>" and
// "zip://<archive>!<member>".
func splitArchive(address string) (archive, member string, ok bool) {
	switch {
	case strings.HasPrefix(address, "/vsizip/"):
		rest := strings.TrimPrefix(address, "/vsizip/")
		i := strings.Index(strings.ToLower(rest), ".zip")
		if i < 0 {
			return "", "", false
		}
		archive = rest[:i+len(".zip")]
		member = strings.TrimPrefix(rest[i+len(".zip"):], "/")
		return archive, member, true
	case strings.HasPrefix(address, "zip://"):
		rest := strings.TrimPrefix(address, "zip://")
		archive, member, _ = strings.Cut(rest, "!")
		return archive, member, true
	}
	return "", "", false
}

// fetch returns the bytes an address points at: a local file, a remote
// http(s) resource, or a member of a (local or remote) zip archive.
func fetch(ctx context.Context, client *http.Client, address string, accept func(string) bool) ([]byte, error) {
	if archive, member, ok := splitArchive(address); ok {
		data, err := fetch(ctx, client, archive, nil)
		if err != nil {
			return nil, err
		}
		return readMember(data, member, accept)
	}
	address = strings.TrimPrefix(address, "/vsicurl/")
	if isRemote(address) {
		return download(ctx, client, address)
	}
	return os.ReadFile(address)
}

func download(ctx context.Context, client *http.Client, url string) ([]byte, error) {
	if client == nil {
		client = httpclient.NewOutbound()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Newf("GET %s: %s", url, resp.Status)
	}
	return io.ReadAll(resp.Body)
}

func readMember(data []byte, member string, accept func(string) bool) ([]byte, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, err
	}
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		if member == "" && (accept == nil || !accept(f.Name)) {
			continue
		}
		if member != "" && path.Clean(f.Name) != path.Clean(member) {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, err
		}
		defer rc.Close()
		return io.ReadAll(rc)
	}
	if member == "" {
		return nil, errors.New("no readable member in archive")
	}
	return nil, errors.Wrapf(os.ErrNotExist, "member %q not in archive", member)
}
