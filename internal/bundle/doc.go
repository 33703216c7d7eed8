// Package bundle loads named resource bundles: it triggers the code
// subpackage registered for the bundle root (if any), fetches the bundle
// manifest through the download router, builds the Bundle and loads the
// bundle entry script when the manifest declares one. Loaded bundles are kept
// in a Registry for the engine.
package bundle
