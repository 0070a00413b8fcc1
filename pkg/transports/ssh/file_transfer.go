package ssh

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"path"
	"time"

	"github.com/pkg/sftp"
	"github.com/rs/zerolog/log"

	"github.com/ynhctl/ynhctl/pkg/transports"
)

// Upload writes src to remotePath over SFTP, creating parent directories as
// needed and applying mode.
func (c *Client) Upload(ctx context.Context, src io.Reader, remotePath string, mode fs.FileMode) error {
	startTime := time.Now()

	sshClient, err := c.getClient()
	if err != nil {
		return err
	}

	sftpClient, err := sftp.NewClient(sshClient)
	if err != nil {
		return &transports.TransportError{
			Op:          "sftp-init",
			Err:         fmt.Errorf("failed to create SFTP client: %w", err),
			IsTemporary: true,
		}
	}
	defer sftpClient.Close()

	log.Debug().
		Str("host", c.config.Host).
		Str("remote", remotePath).
		Msg("uploading file")

	if err := sftpClient.MkdirAll(path.Dir(remotePath)); err != nil {
		return &transports.TransportError{
			Op:  "upload",
			Err: fmt.Errorf("failed to create remote directory: %w", err),
		}
	}

	remoteFile, err := sftpClient.Create(remotePath)
	if err != nil {
		return &transports.TransportError{
			Op:          "upload",
			Err:         fmt.Errorf("failed to create remote file: %w", err),
			IsTemporary: true,
		}
	}
	defer remoteFile.Close()

	bytesWritten, err := copyWithContext(ctx, remoteFile, src)
	if err != nil {
		return &transports.TransportError{
			Op:          "upload",
			Err:         fmt.Errorf("failed to copy file: %w", err),
			IsTemporary: true,
		}
	}

	if mode > 0 {
		if err := sftpClient.Chmod(remotePath, mode); err != nil {
			return &transports.TransportError{
				Op:  "upload",
				Err: fmt.Errorf("failed to set file mode: %w", err),
			}
		}
	}

	log.Info().
		Str("remote", remotePath).
		Int64("bytes", bytesWritten).
		Dur("duration", time.Since(startTime)).
		Msg("file uploaded")

	return nil
}

// copyWithContext copies data from src to dst while respecting context
// cancellation.
func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	buf := make([]byte, 32*1024)
	var written int64

	for {
		select {
		case <-ctx.Done():
			return written, ctx.Err()
		default:
		}

		nr, err := src.Read(buf)
		if nr > 0 {
			nw, werr := dst.Write(buf[0:nr])
			if nw > 0 {
				written += int64(nw)
			}
			if werr != nil {
				return written, werr
			}
			if nr != nw {
				return written, io.ErrShortWrite
			}
		}
		if err != nil {
			if err == io.EOF {
				break
			}
			return written, err
		}
	}

	return written, nil
}
