package testutil

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/klauspost/compress/gzip"
)

// RepoServer is an httptest server publishing an in-memory repository tree
type RepoServer struct {
	*httptest.Server

	mu    sync.Mutex
	files map[string][]byte
	hits  map[string]int
}

// NewRepoServer starts an empty repository server, closed when the test ends
func NewRepoServer(t testing.TB) *RepoServer {
	t.Helper()
	s := &RepoServer{files: make(map[string][]byte), hits: make(map[string]int)}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	t.Cleanup(s.Close)
	return s
}

func (s *RepoServer) serve(w http.ResponseWriter, r *http.Request) {
	p := strings.TrimPrefix(r.URL.Path, "/")
	s.mu.Lock()
	s.hits[p]++
	data, ok := s.files[p]
	s.mu.Unlock()
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Length", fmt.Sprint(len(data)))
	_, _ = w.Write(data)
}

// Put publishes data at the repository-relative path p
func (s *RepoServer) Put(p string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[strings.TrimPrefix(p, "/")] = data
}

// Remove unpublishes p
func (s *RepoServer) Remove(p string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.files, strings.TrimPrefix(p, "/"))
}

// Hits returns how many requests were made for p
func (s *RepoServer) Hits(p string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[strings.TrimPrefix(p, "/")]
}

// PrimaryPackage is one <package> of a generated primary.xml
type PrimaryPackage struct {
	Name     string
	Arch     string
	Epoch    string
	Version  string
	Release  string
	Href     string
	Data     []byte // checksum and size are derived from it
	Requires []string
}

// RepomdEntry is one <data> of a generated repomd.xml
type RepomdEntry struct {
	Type string
	Href string
	Data []byte
	// Open is the decompressed content; nil omits the open-checksum
	Open []byte
}

// SHA256Hex returns the hex sha256 digest of data
func SHA256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Gzip compresses data
func Gzip(data []byte) []byte {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, _ = zw.Write(data)
	_ = zw.Close()
	return buf.Bytes()
}

// PrimaryXML renders a primary.xml document listing pkgs
func PrimaryXML(pkgs ...PrimaryPackage) []byte {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?>` + "\n")
	fmt.Fprintf(&b, `<metadata xmlns="http://linux.duke.edu/metadata/common" xmlns:rpm="http://linux.duke.edu/metadata/rpm" packages="%d">`+"\n", len(pkgs))
	for _, p := range pkgs {
		b.WriteString(`<package type="rpm">` + "\n")
		fmt.Fprintf(&b, "  <name>%s</name>\n  <arch>%s</arch>\n", p.Name, p.Arch)
		fmt.Fprintf(&b, `  <version epoch="%s" ver="%s" rel="%s"/>`+"\n", p.Epoch, p.Version, p.Release)
		fmt.Fprintf(&b, `  <checksum type="sha256" pkgid="YES">%s</checksum>`+"\n", SHA256Hex(p.Data))
		fmt.Fprintf(&b, `  <size package="%d" installed="0" archive="0"/>`+"\n", len(p.Data))
		fmt.Fprintf(&b, `  <location href="%s"/>`+"\n", p.Href)
		b.WriteString("  <format>\n    <rpm:requires>\n")
		for _, r := range p.Requires {
			fmt.Fprintf(&b, `      <rpm:entry name="%s"/>`+"\n", r)
		}
		b.WriteString("    </rpm:requires>\n  </format>\n</package>\n")
	}
	b.WriteString("</metadata>\n")
	return []byte(b.String())
}

// RepomdXML renders a repomd.xml document listing entries
func RepomdXML(entries ...RepomdEntry) []byte {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?>` + "\n")
	b.WriteString(`<repomd xmlns="http://linux.duke.edu/metadata/repo" xmlns:rpm="http://linux.duke.edu/metadata/rpm">` + "\n")
	b.WriteString("  <revision>1700000000</revision>\n")
	for _, e := range entries {
		fmt.Fprintf(&b, `  <data type="%s">`+"\n", e.Type)
		fmt.Fprintf(&b, `    <checksum type="sha256">%s</checksum>`+"\n", SHA256Hex(e.Data))
		if e.Open != nil {
			fmt.Fprintf(&b, `    <open-checksum type="sha256">%s</open-checksum>`+"\n", SHA256Hex(e.Open))
			fmt.Fprintf(&b, "    <open-size>%d</open-size>\n", len(e.Open))
		}
		fmt.Fprintf(&b, `    <location href="%s"/>`+"\n", e.Href)
		b.WriteString("    <timestamp>1700000000</timestamp>\n")
		fmt.Fprintf(&b, "    <size>%d</size>\n", len(e.Data))
		b.WriteString("  </data>\n")
	}
	b.WriteString("</repomd>\n")
	return []byte(b.String())
}

// PublishPrimaryXML publishes pkgs as a gzip compressed primary.xml with a
// matching repomd.xml. Package payloads are published at their hrefs.
func (s *RepoServer) PublishPrimaryXML(pkgs ...PrimaryPackage) {
	primary := PrimaryXML(pkgs...)
	gz := Gzip(primary)
	const href = "repodata/primary.xml.gz"
	s.Put(href, gz)
	s.Put("repodata/repomd.xml", RepomdXML(RepomdEntry{Type: "primary", Href: href, Data: gz, Open: primary}))
	for _, p := range pkgs {
		if p.Data != nil {
			s.Put(p.Href, p.Data)
		}
	}
}
