// Package gdrive mirrors the daily transcript journal into a Google Drive
// folder as a Google Doc, one document per day.
package gdrive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"
)

const docMimeType = "application/vnd.google-apps.document"

type uploader interface {
	create(ctx context.Context, name, folderID string, media io.Reader) (string, error)
	update(ctx context.Context, fileID string, media io.Reader) error
}

type Syncer struct {
	up       uploader
	folderID string

	mu      sync.Mutex
	fileIDs map[string]string
	synced  map[string]time.Time
}

func NewSyncer(ctx context.Context, credPath, folderID string) (*Syncer, error) {
	creds, err := os.ReadFile(credPath)
	if err != nil {
		return nil, fmt.Errorf("read credentials: %w", err)
	}

	config, err := google.CredentialsFromJSONWithTypeAndParams(ctx, creds, google.ServiceAccount, google.CredentialsParams{Scopes: []string{drive.DriveFileScope}})
	if err != nil {
		return nil, fmt.Errorf("parse credentials: %w", err)
	}

	svc, err := drive.NewService(ctx, option.WithCredentials(config))
	if err != nil {
		return nil, fmt.Errorf("create drive service: %w", err)
	}

	return newSyncer(driveUploader{svc: svc}, folderID), nil
}

func newSyncer(up uploader, folderID string) *Syncer {
	return &Syncer{
		up:       up,
		folderID: folderID,
		fileIDs:  make(map[string]string),
		synced:   make(map[string]time.Time),
	}
}

// Sync uploads a journal file named <date>.md. The first upload of a day
// creates the document, later ones replace its content. Files unchanged since
// their last upload are skipped.
func (s *Syncer) Sync(ctx context.Context, localPath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open %s: %w", localPath, err)
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", localPath, err)
	}
	if last, ok := s.synced[localPath]; ok && !info.ModTime().After(last) {
		return nil
	}

	date := strings.TrimSuffix(filepath.Base(localPath), filepath.Ext(localPath))

	if fileID, ok := s.fileIDs[date]; ok {
		if err := s.up.update(ctx, fileID, f); err != nil {
			return fmt.Errorf("drive update: %w", err)
		}
	} else {
		fileID, err := s.up.create(ctx, "ghostguide-"+date, s.folderID, f)
		if err != nil {
			return fmt.Errorf("drive create: %w", err)
		}
		s.fileIDs[date] = fileID
	}

	s.synced[localPath] = info.ModTime()
	slog.Info("journal synced to drive", "date", date)
	return nil
}

// Run syncs the file returned by current every interval, and once more when
// ctx is done. A journal that does not exist yet is skipped.
func (s *Syncer) Run(ctx context.Context, interval time.Duration, current func() string) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
			s.syncCurrent(fctx, current())
			cancel()
			return
		case <-ticker.C:
			s.syncCurrent(ctx, current())
		}
	}
}

func (s *Syncer) syncCurrent(ctx context.Context, path string) {
	err := s.Sync(ctx, path)
	switch {
	case err == nil, errors.Is(err, fs.ErrNotExist):
	default:
		slog.Warn("drive sync", "path", path, "err", err)
	}
}

type driveUploader struct {
	svc *drive.Service
}

func (d driveUploader) create(ctx context.Context, name, folderID string, media io.Reader) (string, error) {
	doc, err := d.svc.Files.Create(&drive.File{
		Name:     name,
		MimeType: docMimeType,
		Parents:  []string{folderID},
	}).Media(media).Context(ctx).Do()
	if err != nil {
		return "", err
	}
	return doc.Id, nil
}

func (d driveUploader) update(ctx context.Context, fileID string, media io.Reader) error {
	_, err := d.svc.Files.Update(fileID, &drive.File{}).Media(media).Context(ctx).Do()
	return err
}
