//go:build !debug

package dispatch

const debugAssertions = false
