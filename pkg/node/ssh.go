package node

import (
	"bytes"
	"context"
	"net"
	"os"
	"time"

	"golang.org/x/crypto/ssh"
)

const (
	defaultDialTimeout = 30 * time.Second
	defaultKeepAlive   = 5 * time.Second
)

var agentDialer = &net.Dialer{
	Timeout:   defaultDialTimeout,
	KeepAlive: defaultKeepAlive,
}

// sshAgent couples an SSH client with its raw connection so that
// per-command deadlines can be set on the socket.
type sshAgent struct {
	client *ssh.Client
	conn   net.Conn
}

func sshTo(address string, sshKey ssh.Signer, userName string) (*sshAgent, error) {
	conn, err := agentDialer.Dial("tcp", address+":22")
	if err != nil {
		return nil, err
	}
	config := &ssh.ClientConfig{
		User: userName,
		Auth: []ssh.AuthMethod{
			ssh.PublicKeys(sshKey),
		},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         5 * time.Second,
	}
	err = conn.SetDeadline(time.Now().Add(defaultDialTimeout))
	if err != nil {
		conn.Close()
		return nil, err
	}
	clientConn, channelCh, reqCh, err := ssh.NewClientConn(conn, "tcp", config)
	if err != nil {
		// conn was already closed in ssh.NewClientConn
		return nil, err
	}
	err = conn.SetDeadline(time.Time{})
	if err != nil {
		clientConn.Close()
		return nil, err
	}
	return &sshAgent{
		client: ssh.NewClient(clientConn, channelCh, reqCh),
		conn:   conn,
	}, nil
}

func parsePrivateKey(keyPath string) (ssh.Signer, error) {
	data, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, err
	}
	return ssh.ParsePrivateKey(data)
}

// run executes a command in a fresh session. The connection deadline
// doubles as the command timeout.
func (a *sshAgent) run(ctx context.Context, command string, timeout time.Duration) ([]byte, []byte, error) {
	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := a.conn.SetDeadline(deadline); err != nil {
		return nil, nil, err
	}
	defer a.conn.SetDeadline(time.Time{})

	sess, err := a.client.NewSession()
	if err != nil {
		return nil, nil, err
	}
	defer sess.Close()

	outBuf := new(bytes.Buffer)
	errBuf := new(bytes.Buffer)
	sess.Stdout = outBuf
	sess.Stderr = errBuf
	err = sess.Run(command)
	return outBuf.Bytes(), errBuf.Bytes(), err
}

func (a *sshAgent) close() error {
	err := a.client.Close()
	// the raw conn is usually closed together with the client
	a.conn.Close()
	return err
}
