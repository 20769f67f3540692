// Package model contains the serialisable descriptions the kernel consumes:
// application manifests and validated app images, and the region-spec
// grammar board configurations use to place flash and RAM.
package model
