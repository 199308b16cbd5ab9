//go:build linux

package integrity

import (
	"os"
	"unsafe"

	"golang.org/x/sys/unix"
)

// fsVerityDigestStructure mirrors struct fsverity_digest from
// linux/fsverity.h: a fixed header the FS_IOC_MEASURE_VERITY ioctl fills in
// ahead of the digest bytes themselves.
type fsVerityDigestStructure struct {
	DigestAlgorithm uint16
	DigestSize      uint16
	Digest          [32]byte
}

const (
	fsIocMeasureVerity = 0xc0046686 // _IOWR('f', 134, struct fsverity_digest)
	hashAlgSHA256      = 1
)

// verifyPlatform asks the Linux kernel whether f has fs-verity enabled and
// whether its measured digest matches expected. If the file has no
// fs-verity digest at all (ENODATA/EOPNOTSUPP — e.g. the filesystem the OCI
// directory lives on doesn't support fs-verity), it falls back to
// recomputing the fingerprint over the file's bytes directly: the oracle
// contract (spec section 4.8) is "does this file's content match what was
// recorded", and a plain digest comparison is a valid, if less kernel-
// enforced, way to answer that.
func verifyPlatform(f *os.File, expected [32]byte) (bool, error) {
	var digest fsVerityDigestStructure
	digest.DigestAlgorithm = hashAlgSHA256
	digest.DigestSize = 32

	_, _, errno := unix.Syscall(unix.SYS_IOCTL, f.Fd(), uintptr(fsIocMeasureVerity), uintptr(unsafe.Pointer(&digest)))
	if errno == 0 {
		return digest.Digest == expected, nil
	}

	// No kernel-enforced fs-verity available on this file/filesystem;
	// fall back to a plain content digest.
	data, err := readAll(f)
	if err != nil {
		return false, err
	}
	return ComputeFingerprint(data) == expected, nil
}

func readAll(f *os.File) ([]byte, error) {
	if _, err := f.Seek(0, 0); err != nil {
		return nil, err
	}
	fi, err := f.Stat()
	if err != nil {
		return nil, err
	}
	buf := make([]byte, fi.Size())
	if _, err := readFull(f, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func readFull(f *os.File, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := f.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
