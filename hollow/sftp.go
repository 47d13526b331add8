package hollow

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/avast/retry-go"
	"github.com/pkg/sftp"
	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// SFTPPublisher drops the wrapped file into a directory on the host that
// runs a hollow-local producer.
type SFTPPublisher struct {
	Addr           string // host:port
	User           string
	KeyPath        string
	KnownHostsFile string // empty: host key not verified
	RemoteDir      string
	Attempts       uint
	Log            *zap.Logger
}

func (s *SFTPPublisher) Mode() string { return "sftp" }

func (s *SFTPPublisher) Publish(ctx context.Context, _ *Payload, file string) (*Result, error) {
	conf, err := s.clientConfig()
	if err != nil {
		return nil, err
	}

	var sshClient *ssh.Client
	err = retry.Do(
		func() error {
			if err := ctx.Err(); err != nil {
				return retry.Unrecoverable(err)
			}
			c, err := ssh.Dial("tcp", s.Addr, conf)
			if err != nil {
				return err
			}
			sshClient = c
			return nil
		},
		retry.Attempts(s.attempts()),
		retry.Delay(time.Second),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			s.Log.Warn("ssh dial failed, retrying", zap.String("addr", s.Addr), zap.Uint("attempt", n+1), zap.Error(err))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("ssh dial %s: %w", s.Addr, err)
	}
	defer sshClient.Close()

	sftpClient, err := sftp.NewClient(sshClient)
	if err != nil {
		return nil, fmt.Errorf("open sftp session: %w", err)
	}
	defer sftpClient.Close()

	remote, err := s.upload(sftpClient, file)
	if err != nil {
		return nil, err
	}
	s.Log.Info("uploaded Hollow-formatted data", zap.String("addr", s.Addr), zap.String("remote", remote))
	return &Result{Mode: s.Mode(), File: file, Remote: remote}, nil
}

func (s *SFTPPublisher) upload(c *sftp.Client, file string) (string, error) {
	if s.RemoteDir != "" {
		if err := c.MkdirAll(s.RemoteDir); err != nil {
			return "", fmt.Errorf("create remote dir %s: %w", s.RemoteDir, err)
		}
	}
	remote := path.Join(s.RemoteDir, filepath.Base(file))
	partial := remote + ".part"

	src, err := os.Open(file)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", file, err)
	}
	defer src.Close()

	dst, err := c.Create(partial)
	if err != nil {
		return "", fmt.Errorf("create remote %s: %w", partial, err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return "", fmt.Errorf("upload %s: %w", file, err)
	}
	if err := dst.Close(); err != nil {
		return "", fmt.Errorf("close remote %s: %w", partial, err)
	}

	// plain SFTP rename refuses to overwrite
	_ = c.Remove(remote)
	if err := c.Rename(partial, remote); err != nil {
		return "", fmt.Errorf("rename remote %s: %w", partial, err)
	}
	return remote, nil
}

func (s *SFTPPublisher) attempts() uint {
	if s.Attempts == 0 {
		return 3
	}
	return s.Attempts
}

func (s *SFTPPublisher) clientConfig() (*ssh.ClientConfig, error) {
	keyBytes, err := os.ReadFile(s.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("read ssh key: %w", err)
	}
	key, err := ssh.ParsePrivateKey(keyBytes)
	if err != nil {
		return nil, fmt.Errorf("parse ssh key %s: %w", s.KeyPath, err)
	}

	hostKeys := ssh.InsecureIgnoreHostKey()
	if s.KnownHostsFile != "" {
		if hostKeys, err = knownhosts.New(s.KnownHostsFile); err != nil {
			return nil, fmt.Errorf("load known hosts: %w", err)
		}
	}

	return &ssh.ClientConfig{
		User:            s.User,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(key)},
		HostKeyCallback: hostKeys,
		Timeout:         10 * time.Second,
	}, nil
}
