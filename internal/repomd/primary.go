package repomd

import (
	"context"
	"database/sql"
	"encoding/xml"
	"fmt"
	"io"
	"strings"

	"github.com/dshills/symindex/internal/storage"
	"github.com/dshills/symindex/pkg/types"
)

// ReadPrimaryDB lists the packages of a primary_db sqlite file in pkgKey order
func ReadPrimaryDB(ctx context.Context, path string, filter Filter) ([]types.PackageDescriptor, error) {
	db, err := sql.Open(storage.DriverName, path)
	if err != nil {
		return nil, fmt.Errorf("open primary db: %w", err)
	}
	defer func() { _ = db.Close() }()

	var b strings.Builder
	args := make([]interface{}, 0, len(filter.Arches)+len(filter.Requires))
	b.WriteString(`
		SELECT name, arch, version, COALESCE(epoch, '0'), release,
		       location_href, COALESCE(checksum_type, ''), COALESCE(pkgId, ''), COALESCE(size_package, 0)
		FROM packages p
		WHERE 1 = 1`)

	if len(filter.Arches) > 0 {
		b.WriteString(" AND p.arch IN (")
		for i, a := range filter.Arches {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString("?")
			args = append(args, a)
		}
		b.WriteString(")")
	}

	if len(filter.Requires) > 0 {
		b.WriteString(" AND EXISTS (SELECT 1 FROM requires r WHERE r.pkgKey = p.pkgKey AND (")
		for i, w := range filter.Requires {
			if i > 0 {
				b.WriteString(" OR ")
			}
			b.WriteString(`r.name LIKE ? ESCAPE '\'`)
			args = append(args, LikeFromWildcard(w))
		}
		b.WriteString("))")
	}
	b.WriteString(" ORDER BY p.pkgKey")

	rows, err := db.QueryContext(ctx, b.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("query packages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	pkgs := make([]types.PackageDescriptor, 0)
	for rows.Next() {
		var d types.PackageDescriptor
		err := rows.Scan(&d.Name, &d.Arch, &d.Version, &d.Epoch, &d.Release,
			&d.Location, &d.Checksum.Type, &d.Checksum.Digest, &d.Size)
		if err != nil {
			return nil, fmt.Errorf("scan package: %w", err)
		}
		pkgs = append(pkgs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query packages: %w", err)
	}
	return pkgs, nil
}

type xmlPackage struct {
	Type    string `xml:"type,attr"`
	Name    string `xml:"name"`
	Arch    string `xml:"arch"`
	Version struct {
		Epoch string `xml:"epoch,attr"`
		Ver   string `xml:"ver,attr"`
		Rel   string `xml:"rel,attr"`
	} `xml:"version"`
	Checksum Checksum `xml:"checksum"`
	Size     struct {
		Package int64 `xml:"package,attr"`
	} `xml:"size"`
	Location Location `xml:"location"`
	Format   struct {
		Requires struct {
			Entries []struct {
				Name string `xml:"name,attr"`
			} `xml:"entry"`
		} `xml:"requires"`
	} `xml:"format"`
}

// ReadPrimaryXML streams a primary.xml document and lists its packages in
// document order. Only one <package> element is held in memory at a time.
func ReadPrimaryXML(r io.Reader, filter Filter) ([]types.PackageDescriptor, error) {
	arches := archSet(filter.Arches)
	requires := newRequiresMatcher(filter.Requires)

	dec := xml.NewDecoder(r)
	pkgs := make([]types.PackageDescriptor, 0)
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return pkgs, nil
		}
		if err != nil {
			return nil, fmt.Errorf("malformed primary.xml: %w", err)
		}
		start, ok := tok.(xml.StartElement)
		if !ok || start.Name.Local != "package" {
			continue
		}

		var p xmlPackage
		if err := dec.DecodeElement(&p, &start); err != nil {
			return nil, fmt.Errorf("malformed primary.xml package: %w", err)
		}
		if p.Type != "" && p.Type != "rpm" {
			continue
		}
		if arches != nil {
			if _, ok := arches[p.Arch]; !ok {
				continue
			}
		}
		if len(filter.Requires) > 0 {
			names := make([]string, len(p.Format.Requires.Entries))
			for i, e := range p.Format.Requires.Entries {
				names[i] = e.Name
			}
			if !requires.any(names) {
				continue
			}
		}

		epoch := p.Version.Epoch
		if epoch == "" {
			epoch = "0"
		}
		pkgs = append(pkgs, types.PackageDescriptor{
			NaturalKey: types.NaturalKey{
				Name:    p.Name,
				Arch:    p.Arch,
				Version: p.Version.Ver,
				Epoch:   epoch,
				Release: p.Version.Rel,
			},
			Location: p.Location.Href,
			Checksum: p.Checksum.Types(),
			Size:     p.Size.Package,
		})
	}
}
