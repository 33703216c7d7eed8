// Package platform models the host capabilities and media primitives the
// asset layer depends on: image decoding, font family probing, audio handles,
// local script execution and code subpackage loading. The strategy-dependent
// parts of the downloader are selected once from Capabilities at startup.
package platform
