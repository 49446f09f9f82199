package repomd

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/dshills/symindex/internal/decompress"
	"github.com/dshills/symindex/internal/fetcher"
	"github.com/dshills/symindex/pkg/types"
)

// maxRepomdSize bounds the in-memory repomd.xml download
const maxRepomdSize = 16 << 20

// Repository is the resolved package list of one repository
type Repository struct {
	URI         string
	PrimaryHref string
	Packages    []types.PackageDescriptor
	// TotalSize is the sum of the package sizes listed in Packages
	TotalSize int64
	// Cached is true when the primary metadata was reused from the cache
	Cached bool
}

// Resolver turns a repository URI into its list of package descriptors
type Resolver struct {
	fetcher  *fetcher.Fetcher
	cacheDir string
	logger   zerolog.Logger
}

// NewResolver creates a Resolver storing decompressed metadata under cacheDir
func NewResolver(f *fetcher.Fetcher, cacheDir string, logger zerolog.Logger) *Resolver {
	return &Resolver{fetcher: f, cacheDir: cacheDir, logger: logger}
}

// Resolve fetches repomd.xml and the primary package list of uri. Any
// failure is returned as *types.MetadataUnavailableError.
func (r *Resolver) Resolve(ctx context.Context, uri string, filter Filter) (*Repository, error) {
	repo, err := r.resolve(ctx, uri, filter)
	if err != nil {
		return nil, &types.MetadataUnavailableError{Repo: uri, Err: err}
	}
	return repo, nil
}

func (r *Resolver) resolve(ctx context.Context, uri string, filter Filter) (*Repository, error) {
	if timeout := r.fetcher.Config().MetadataTimeout; timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	base := strings.TrimRight(uri, "/")
	raw, err := r.fetcher.Get(ctx, base+"/repodata/repomd.xml", maxRepomdSize)
	if err != nil {
		return nil, err
	}
	doc, err := Parse(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}

	data := doc.Primary()
	if data == nil {
		return nil, fmt.Errorf(`repomd.xml lists neither %q nor %q`, TypePrimaryDB, TypePrimary)
	}
	if data.Location.Href == "" {
		return nil, fmt.Errorf("%s entry has no location", data.Type)
	}

	localPath, cached, err := r.fetchPrimary(ctx, base, data)
	if err != nil {
		return nil, err
	}

	var pkgs []types.PackageDescriptor
	switch data.Type {
	case TypePrimaryDB:
		pkgs, err = ReadPrimaryDB(ctx, localPath, filter)
	default:
		pkgs, err = readPrimaryXMLFile(localPath, filter)
	}
	if err != nil {
		return nil, err
	}

	repo := &Repository{URI: uri, PrimaryHref: data.Location.Href, Packages: pkgs, Cached: cached}
	for i := range pkgs {
		repo.TotalSize += pkgs[i].Size
	}
	return repo, nil
}

func readPrimaryXMLFile(p string, filter Filter) ([]types.PackageDescriptor, error) {
	f, err := os.Open(p)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	return ReadPrimaryXML(f, filter)
}

// cachePath is where the decompressed form of href is kept for uri
func (r *Resolver) cachePath(uri, href string) (string, string, error) {
	format, stripped, err := decompress.FromExtension(path.Base(href))
	if err != nil {
		return "", "", err
	}
	sum := sha256.Sum256([]byte(uri))
	dir := filepath.Join(r.cacheDir, hex.EncodeToString(sum[:8]))
	return filepath.Join(dir, stripped), format, nil
}

// fetchPrimary makes sure the decompressed primary metadata is present in the
// cache and returns its path. A cached file is reused when its digest matches
// the published open-checksum.
func (r *Resolver) fetchPrimary(ctx context.Context, base string, data *Data) (string, bool, error) {
	dest, format, err := r.cachePath(base, data.Location.Href)
	if err != nil {
		return "", false, err
	}
	open := data.OpenChecksum.Types()
	if h, err := fetcher.NewHash(open.Type); err != nil || h == nil {
		// Unknown digest types are not verified, and never reused from cache
		open = types.Checksum{}
	}

	if !open.IsZero() {
		if ok, _ := fileMatches(dest, open); ok {
			r.logger.Debug().Str("path", dest).Msg("reusing cached primary metadata")
			return dest, true, nil
		}
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", false, fmt.Errorf("create cache dir: %w", err)
	}

	url := base + "/" + strings.TrimLeft(data.Location.Href, "/")
	var tmpName string
	err = r.fetcher.Fetch(ctx, url, data.Checksum.Types(), func(body io.Reader) error {
		if tmpName != "" {
			_ = os.Remove(tmpName)
		}
		tmp, err := os.CreateTemp(filepath.Dir(dest), ".primary-*")
		if err != nil {
			return err
		}
		tmpName = tmp.Name()
		defer func() { _ = tmp.Close() }()

		dec, err := decompress.NewReader(format, body)
		if err != nil {
			return fmt.Errorf("decompress %s: %w", data.Location.Href, err)
		}
		defer func() { _ = dec.Close() }()

		if _, err := io.Copy(tmp, dec); err != nil {
			return fmt.Errorf("decompress %s: %w", data.Location.Href, err)
		}
		return tmp.Close()
	})
	if err != nil {
		if tmpName != "" {
			_ = os.Remove(tmpName)
		}
		return "", false, err
	}

	if !open.IsZero() {
		ok, err := fileMatches(tmpName, open)
		if err != nil {
			_ = os.Remove(tmpName)
			return "", false, err
		}
		if !ok {
			_ = os.Remove(tmpName)
			return "", false, fmt.Errorf("%s: open-checksum mismatch", data.Location.Href)
		}
	}

	if err := os.Rename(tmpName, dest); err != nil {
		_ = os.Remove(tmpName)
		return "", false, fmt.Errorf("install cached metadata: %w", err)
	}
	return dest, false, nil
}

// fileMatches reports whether the file at p has the given digest
func fileMatches(p string, sum types.Checksum) (bool, error) {
	h, err := fetcher.NewHash(sum.Type)
	if err != nil {
		return false, err
	}
	if h == nil {
		return false, nil
	}
	f, err := os.Open(p)
	if err != nil {
		return false, err
	}
	defer func() { _ = f.Close() }()

	if _, err := io.Copy(h, f); err != nil {
		return false, err
	}
	return strings.EqualFold(hex.EncodeToString(h.Sum(nil)), sum.Digest), nil
}
