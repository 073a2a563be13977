package core

import (
	"context"
	"fmt"
	"io"
	"net/http"
)

// HTTPVFS is a read-only VFS backed by HTTP range requests, grounded
// on pmtiles/bucket.go's HTTPBucket. Used for arrays published on
// static HTTP range servers.
type HTTPVFS struct {
	client  *http.Client
	baseURL string
}

func NewHTTPVFS(client *http.Client, baseURL string) *HTTPVFS {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPVFS{client: client, baseURL: baseURL}
}

func (v *HTTPVFS) url(uri string) string { return v.baseURL + "/" + uri }

func (v *HTTPVFS) FileSize(ctx context.Context, uri string) (uint64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, v.url(uri), nil)
	if err != nil {
		return 0, errf(ErrIO, err, "head %s", uri)
	}
	resp, err := v.client.Do(req)
	if err != nil {
		return 0, errf(ErrIO, err, "head %s", uri)
	}
	defer resp.Body.Close()
	return uint64(resp.ContentLength), nil
}

func (v *HTTPVFS) Read(ctx context.Context, uri string, offset uint64, buf []byte) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.url(uri), nil)
	if err != nil {
		return 0, errf(ErrIO, err, "get %s", uri)
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", offset, offset+uint64(len(buf))-1))
	resp, err := v.client.Do(req)
	if err != nil {
		return 0, errf(ErrIO, err, "get %s", uri)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusPartialContent && resp.StatusCode != http.StatusOK {
		return 0, errf(ErrIO, nil, "get %s: status %d", uri, resp.StatusCode)
	}
	n, err := io.ReadFull(resp.Body, buf)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return n, errf(ErrIO, err, "read body %s", uri)
	}
	return n, nil
}

func (v *HTTPVFS) WriteAppend(context.Context, string, []byte) error {
	return errf(ErrIO, nil, "HTTP VFS is read-only")
}
func (v *HTTPVFS) Remove(context.Context, string) error {
	return errf(ErrIO, nil, "HTTP VFS is read-only")
}
func (v *HTTPVFS) Rename(context.Context, string, string) error {
	return errf(ErrIO, nil, "HTTP VFS is read-only")
}

func (v *HTTPVFS) Exists(ctx context.Context, uri string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, v.url(uri), nil)
	if err != nil {
		return false, err
	}
	resp, err := v.client.Do(req)
	if err != nil {
		return false, errf(ErrIO, err, "head %s", uri)
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK, nil
}

func (v *HTTPVFS) Ls(context.Context, string) ([]string, error) {
	return nil, errf(ErrIO, nil, "HTTP VFS does not support directory listing")
}

func (v *HTTPVFS) FilelockLock(context.Context, string, bool) (FileLockHandle, error) {
	return nil, errf(ErrConcurrency, nil, "HTTP VFS is read-only and has no filelock")
}
