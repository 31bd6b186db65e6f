//go:build riscv64

package elfload

const nativeMachine = emRISCV
