// Package transform is the abstract I/O transformation layer. A Registry is
// the catalog of named transformer drivers (TLS, compression, logging taps)
// and a Set holds the transformations active on one connection's descriptor
// pair. The layer is deliberately coupled to file descriptors: drivers
// substitute pipe ends serviced by their own relay goroutines, so protocol
// code keeps reading and writing plain descriptors regardless of how many
// layers are stacked beneath them.
package transform
