package wire

import "fmt"

// FirmwareVersion is a packed firmware version: major in the top byte,
// minor in the next, patch in the low 16 bits.
type FirmwareVersion uint32

// PackFirmware builds a FirmwareVersion from its components.
func PackFirmware(major, minor uint8, patch uint16) FirmwareVersion {
	return FirmwareVersion(uint32(major)<<24 | uint32(minor)<<16 | uint32(patch))
}

// Unpack splits the version into major, minor and patch components.
func (v FirmwareVersion) Unpack() (major, minor uint8, patch uint16) {
	return uint8(v >> 24), uint8(v >> 16), uint16(v)
}

// String formats the version as "major.minor.patch".
func (v FirmwareVersion) String() string {
	major, minor, patch := v.Unpack()
	return fmt.Sprintf("%d.%d.%d", major, minor, patch)
}
