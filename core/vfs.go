package core

import (
	"context"
	"net/url"
	"path"
	"strings"
)

// VFS is the filesystem abstraction the core depends on; local or
// remote. Errors bubble up verbatim — the core does not retry at this
// layer (SPEC_FULL.md §6.3).
type VFS interface {
	FileSize(ctx context.Context, uri string) (uint64, error)
	Read(ctx context.Context, uri string, offset uint64, buf []byte) (int, error)
	WriteAppend(ctx context.Context, uri string, data []byte) error
	Remove(ctx context.Context, uri string) error
	Rename(ctx context.Context, oldURI, newURI string) error
	Exists(ctx context.Context, uri string) (bool, error)
	Ls(ctx context.Context, dirURI string) ([]string, error)
	FilelockLock(ctx context.Context, uri string, shared bool) (FileLockHandle, error)
}

// FileLockHandle is returned by FilelockLock; Unlock releases it.
type FileLockHandle interface {
	Unlock() error
}

// ReadAll reads the entire file at uri, a convenience built on
// FileSize+Read used by schema and bookkeeping loaders.
func ReadAll(ctx context.Context, vfs VFS, uri string) ([]byte, error) {
	size, err := vfs.FileSize(ctx, uri)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, size)
	n, err := vfs.Read(ctx, uri, 0, buf)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}

// OpenVFSForURI splits a command-line array location into a VFS rooted
// at the containing bucket/directory plus the array's own relative
// name, mirroring pmtiles/bucket.go's NormalizeBucketKey+OpenBucket
// split (there: bucket URL + object key; here: bucket/directory VFS +
// array directory name) so the same CLI flag works for file paths and
// s3://, gs://, azblob:// locations without per-scheme branches at the
// call site.
func OpenVFSForURI(ctx context.Context, uri string) (VFS, string, error) {
	if strings.HasPrefix(uri, "http://") || strings.HasPrefix(uri, "https://") {
		u, err := url.Parse(uri)
		if err != nil {
			return nil, "", errf(ErrIO, err, "parse %s", uri)
		}
		dir, file := path.Split(strings.TrimSuffix(u.Path, "/"))
		base := u.Scheme + "://" + u.Host + dir
		return NewHTTPVFS(nil, strings.TrimSuffix(base, "/")), file, nil
	}
	local := strings.TrimPrefix(uri, "file://")
	if !strings.Contains(local, "://") {
		dir, file := path.Split(strings.TrimSuffix(local, "/"))
		if dir == "" {
			dir = "."
		}
		return NewFileVFS(dir), file, nil
	}
	u, err := url.Parse(uri)
	if err != nil {
		return nil, "", errf(ErrIO, err, "parse %s", uri)
	}
	dir, file := path.Split(strings.TrimSuffix(u.Path, "/"))
	bucketURL := u.Scheme + "://" + u.Host
	prefix := strings.Trim(dir, "/")
	bucket, err := OpenBlobBucket(ctx, bucketURL, prefix)
	if err != nil {
		return nil, "", err
	}
	return bucket, file, nil
}
