package repomd

import (
	"encoding/xml"
	"fmt"
	"io"
	"strings"

	"github.com/dshills/symindex/pkg/types"
)

// Data types published in repomd.xml that the resolver can read
const (
	TypePrimaryDB = "primary_db"
	TypePrimary   = "primary"
)

// Checksum is a typed digest element such as <checksum type="sha256">
type Checksum struct {
	Type  string `xml:"type,attr"`
	Value string `xml:",chardata"`
}

// Types converts the element into the shared checksum type
func (c *Checksum) Types() types.Checksum {
	if c == nil {
		return types.Checksum{}
	}
	return types.Checksum{Type: strings.TrimSpace(c.Type), Digest: strings.ToLower(strings.TrimSpace(c.Value))}
}

// Location is an href relative to the repository root
type Location struct {
	Href string `xml:"href,attr"`
}

// Data is one <data> entry of repomd.xml
type Data struct {
	Type         string    `xml:"type,attr"`
	Checksum     Checksum  `xml:"checksum"`
	OpenChecksum *Checksum `xml:"open-checksum"`
	Location     Location  `xml:"location"`
	Timestamp    int64     `xml:"timestamp"`
	Size         int64     `xml:"size"`
	OpenSize     int64     `xml:"open-size"`
}

// Document is a parsed repomd.xml
type Document struct {
	XMLName  xml.Name `xml:"repomd"`
	Revision string   `xml:"revision"`
	Data     []Data   `xml:"data"`
}

// Parse decodes a repomd.xml document
func Parse(r io.Reader) (*Document, error) {
	var doc Document
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("malformed repomd.xml: %w", err)
	}
	return &doc, nil
}

// Find returns the entry of the given type, or nil
func (d *Document) Find(typ string) *Data {
	for i := range d.Data {
		if d.Data[i].Type == typ {
			return &d.Data[i]
		}
	}
	return nil
}

// Primary returns the preferred package list: the sqlite database when
// published, the XML document otherwise
func (d *Document) Primary() *Data {
	if data := d.Find(TypePrimaryDB); data != nil {
		return data
	}
	return d.Find(TypePrimary)
}
