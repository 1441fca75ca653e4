// Command deltamesh runs and inspects deltamesh nodes.
//
//	deltamesh -c /etc/deltamesh/deltamesh.yaml serve
//	deltamesh -c /etc/deltamesh/deltamesh.yaml dump -o json
//	deltamesh status -s 127.0.0.1:9464
//
// Build information is injected with -ldflags on
// internal/infra/buildinfo.Version, Commit and BuildTime.
package main
