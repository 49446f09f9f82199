// Package cpio reads the newc and crc variants of the SVR4 cpio format used
// for RPM payloads. Only regular files are surfaced.
package cpio
