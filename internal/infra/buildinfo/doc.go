// Package buildinfo exposes version information for the deltamesh
// binary.
//
// Release builds inject values with ldflags:
//
//	go build -ldflags "-X github.com/yndnr/deltamesh-go/internal/infra/buildinfo.Version=v0.3.0 \
//	  -X github.com/yndnr/deltamesh-go/internal/infra/buildinfo.Commit=$(git rev-parse --short HEAD)"
//
// Without ldflags the commit and Go version fall back to what the
// toolchain embedded in the binary.
package buildinfo
