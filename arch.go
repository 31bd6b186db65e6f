package elfload

// nativeEndianIsLSB is true on every architecture this loader supports
// (x86_64, aarch64, riscv64): Go never builds any of them big-endian, so the
// native-endianness check (spec §4.1, step 6) always requires ELFDATA2LSB.
const nativeEndianIsLSB = true
