//go:build amd64

package elfload

// nativeMachine is the EM_* constant for the architecture this binary was
// built for (spec §4.1, step 8: "e_machine matches the native architecture").
const nativeMachine = emX86_64
