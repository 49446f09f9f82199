// Package repomd resolves a yum/dnf repository into the list of packages it
// publishes.
//
// Resolution reads repodata/repomd.xml, picks the primary package list
// (the primary_db sqlite database when present, primary.xml otherwise),
// downloads and decompresses it into a per-repository cache directory, and
// reads the package descriptors out of it.
//
// The decompressed metadata is kept between runs. When repomd.xml publishes
// an open-checksum for the entry and the cached file still matches it, the
// download is skipped entirely.
//
// Packages can be narrowed with a Filter: by architecture, and by requires
// entries matched against shell-style wildcards. The same wildcard semantics
// apply to both metadata formats; for primary_db they are translated to SQL
// LIKE patterns with LikeFromWildcard.
package repomd
