// Package downloader turns asset requests into local content. The Router
// picks a handler by file extension and schedules it under the concurrency
// and per-tick limits; handlers ask the Resolver whether the URL is local,
// cached or must be fetched, and the Orchestrator downloads, tracks and
// commits remote files before handing the local path to the handler's
// processor.
package downloader
