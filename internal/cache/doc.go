// Package cache implements the persistent asset cache: a disk store that
// translates remote asset URLs into StoragePath/<hh>/<sha1><ext> files, an
// LRU index persisted as a JSON manifest, and the process-lifetime tracker of
// temporary downloads. The store writes through temp file + rename so a
// reader never observes a partial body; the index keeps the sum of entry
// sizes under the configured budget by evicting least recently used entries.
// Download orchestration depends on this package to decide whether a remote
// URL can be served from disk and to commit freshly fetched files.
package cache
