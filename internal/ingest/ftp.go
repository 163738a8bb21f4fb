package ingest

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/jlaffaye/ftp"

	"github.com/lox/gridweather/internal/metrics"
)

// ftpConn is the part of an FTP session the source uses.
type ftpConn interface {
	Login(user, password string) error
	List(path string) ([]*ftp.Entry, error)
	Open(path string) (io.ReadCloser, error)
	Quit() error
}

type serverConn struct{ *ftp.ServerConn }

func (c serverConn) Open(path string) (io.ReadCloser, error) { return c.Retr(path) }

// FTPSource acquires price archives from an FTP mirror. Every .zip or .csv
// in the remote directory is fetched.
type FTPSource struct {
	addr     string
	user     string
	password string
	dir      string
	manifest Manifest

	dial func(ctx context.Context) (ftpConn, error)
}

func NewFTPSource(addr, user, password, dir string, manifest Manifest) *FTPSource {
	if user == "" {
		user, password = "anonymous", "anonymous"
	}
	f := &FTPSource{
		addr:     addr,
		user:     user,
		password: password,
		dir:      dir,
		manifest: manifest,
	}
	f.dial = f.connect
	return f
}

func (f *FTPSource) connect(ctx context.Context) (ftpConn, error) {
	conn, err := ftp.Dial(f.addr, ftp.DialWithTimeout(30*time.Second), ftp.DialWithContext(ctx))
	if err != nil {
		return nil, err
	}
	return serverConn{conn}, nil
}

func (f *FTPSource) Name() string { return "ftp" }

func (f *FTPSource) Acquire(ctx context.Context, dir string) (AcquireResult, error) {
	var res AcquireResult
	if err := os.MkdirAll(dir, 0755); err != nil {
		return res, fmt.Errorf("create raw dir: %w", err)
	}

	conn, err := f.dial(ctx)
	if err != nil {
		return res, fmt.Errorf("ftp dial: %w", err)
	}
	defer conn.Quit()

	if err := conn.Login(f.user, f.password); err != nil {
		return res, fmt.Errorf("ftp login: %w", err)
	}

	entries, err := conn.List(f.dir)
	if err != nil {
		return res, fmt.Errorf("ftp list: %w", err)
	}

	var names []string
	for _, e := range entries {
		if e.Type != ftp.EntryTypeFile {
			continue
		}
		ext := strings.ToLower(path.Ext(e.Name))
		if ext == ".zip" || ext == ".csv" {
			names = append(names, e.Name)
		}
	}
	sort.Strings(names)

	var result *multierror.Error
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		files, err := f.fetch(conn, name, dir)
		res.Files = append(res.Files, files...)
		if err != nil {
			log.Printf("acquire: ftp %s failed: %v", name, err)
			metrics.FilesAcquired.WithLabelValues(f.Name(), "error").Inc()
			res.Failed++
			result = multierror.Append(result, &AcquisitionError{File: name, Err: err})
			continue
		}
		metrics.FilesAcquired.WithLabelValues(f.Name(), "ok").Inc()
	}

	log.Printf("acquire: ftp wrote %d files, %d failed", len(res.Files), res.Failed)
	return res, result.ErrorOrNil()
}

func (f *FTPSource) fetch(conn ftpConn, name, dir string) ([]string, error) {
	resp, err := conn.Open(path.Join(f.dir, name))
	if err != nil {
		return nil, fmt.Errorf("ftp retr: %w", err)
	}
	body, err := io.ReadAll(resp)
	resp.Close()
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return extractDocument(name, body, dir, f.Name(), f.manifest)
}
