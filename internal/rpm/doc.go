// Package rpm reads the RPM envelope (lead, signature header, main header)
// and exposes the decompressed cpio payload as a stream.
//
// Only the header tags needed to identify the package and decode its
// payload are interpreted. The payload compressor is taken from the
// PAYLOADCOMPRESSOR tag; gzip is assumed when it is absent.
package rpm
