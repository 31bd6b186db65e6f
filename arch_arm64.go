//go:build arm64

package elfload

const nativeMachine = emAARCH64
