// Package transport implements the network download primitive used by the
// asset cache: http/https through a shared tuned http.Client and s3:// URLs
// through the AWS SDK. Downloads land in uniquely named temp files under the
// configured temp directory, report byte progress on the calling goroutine,
// retry transient failures with exponential backoff, and never leave partial
// files behind.
package transport
