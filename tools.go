//go:build tools

package tools

// Tool dependencies are not tracked with blank imports. mockery v3 is used
// as an installed binary; run it from the module root to regenerate
// pkg/transport/mocks.
