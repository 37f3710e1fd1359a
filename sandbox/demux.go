package sandbox

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/docker/docker/pkg/stdcopy"
)

const frameHeaderLen = 8

// demux splits a multiplexed attach stream into stdout and stderr. Frames
// tagged as stdin are discarded. It returns nil once the stream ends on a
// frame boundary.
func demux(r io.Reader, stdout, stderr io.Writer) error {
	header := make([]byte, frameHeaderLen)
	for {
		if _, err := io.ReadFull(r, header); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("failed to read frame header: %w", err)
		}

		size := int64(binary.BigEndian.Uint32(header[4:]))

		var dst io.Writer
		switch stdcopy.StdType(header[0]) {
		case stdcopy.Stdin:
			dst = io.Discard
		case stdcopy.Stdout:
			dst = stdout
		case stdcopy.Stderr:
			dst = stderr
		case stdcopy.Systemerr:
			var msg strings.Builder
			if _, err := io.CopyN(&msg, r, size); err != nil {
				return fmt.Errorf("failed to read daemon error: %w", err)
			}
			return fmt.Errorf("daemon error: %s", msg.String())
		default:
			return fmt.Errorf("unknown stream id %d", header[0])
		}

		if _, err := io.CopyN(dst, r, size); err != nil {
			return fmt.Errorf("failed to read frame: %w", err)
		}
	}
}

// decodeText converts captured bytes to text, replacing invalid UTF-8.
func decodeText(b []byte) string {
	return strings.ToValidUTF8(string(b), "\uFFFD")
}
