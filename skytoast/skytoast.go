// Package skytoast provides shared plumbing for the skytoast tile pyramid
// tools: leveled logging, tile pixel arrays and their serialization, and
// TOML configuration.
package skytoast

// Version is the version of the skytoast tools.
const Version = "0.1.0"
