// Package locator resolves the absolute path of the matching worker program.
//
// Two strategies are provided. Fixed joins a configured anchor directory with a
// relative subpath. Ascent walks upward from a start directory until it finds a
// marker manifest whose identifying field carries the expected value, then joins
// that project root with the subpath. Both apply the same trust checks to the
// resolved program: it must be a regular, executable file that stays inside its
// root after symlink resolution, and its directory must not be world-writable.
//
// Cached wraps either strategy so the filesystem is consulted once per process.
// Failed resolutions are not cached.
package locator
