package format

import "io/fs"

// POSIX mode bit layout, reused directly from the host stat(2) convention
// (same bit values the teacher's mode.go used for squashfs inodes, which
// are themselves just the Linux on-disk convention).
const (
	sIFMT   = 0xf000
	sIFREG  = 0x8000
	sIFDIR  = 0x4000
	sIFBLK  = 0x6000
	sIFCHR  = 0x2000
	sIFIFO  = 0x1000
	sIFLNK  = 0xa000
	sIFSOCK = 0xc000

	sISVTX = 0x200
	sISGID = 0x400
	sISUID = 0x800
)

// UnixToFileMode converts a raw POSIX mode_t value (type bits + permission
// bits) into an fs.FileMode, for inodes read back from a metadata blob or
// mode bits recorded by the builder from os.Lstat.
func UnixToFileMode(mode uint32) fs.FileMode {
	res := fs.FileMode(mode & 0o777)

	switch mode & sIFMT {
	case sIFCHR:
		res |= fs.ModeCharDevice | fs.ModeDevice
	case sIFBLK:
		res |= fs.ModeDevice
	case sIFDIR:
		res |= fs.ModeDir
	case sIFIFO:
		res |= fs.ModeNamedPipe
	case sIFLNK:
		res |= fs.ModeSymlink
	case sIFSOCK:
		res |= fs.ModeSocket
	}

	if mode&sISGID == sISGID {
		res |= fs.ModeSetgid
	}
	if mode&sISUID == sISUID {
		res |= fs.ModeSetuid
	}
	if mode&sISVTX == sISVTX {
		res |= fs.ModeSticky
	}

	return res
}

// FileModeToModeTag maps an fs.FileMode's type bits to the ModeTag that
// should represent it in the wire format.
func FileModeToModeTag(mode fs.FileMode) ModeTag {
	switch {
	case mode&fs.ModeDir != 0:
		return ModeDir
	case mode&fs.ModeSymlink != 0:
		return ModeLnk
	case mode&fs.ModeNamedPipe != 0:
		return ModeFifo
	case mode&fs.ModeSocket != 0:
		return ModeSock
	case mode&fs.ModeCharDevice != 0:
		return ModeChr
	case mode&fs.ModeDevice != 0:
		return ModeBlk
	default:
		return ModeFile
	}
}
