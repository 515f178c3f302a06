// Package opencl adapts go-opencl devices to the compute interfaces. The
// backend needs the OpenCL headers and ICD loader and is only compiled with
// the opencl build tag; importing the package without the tag is a no-op.
package opencl
