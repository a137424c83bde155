// Package finalize turns a verified raw archive into an installable one.
package finalize

import (
	"archive/zip"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/veranemoloko/mobile-transfer/internal/domain"
)

// MetadataEntry is the archive member carrying purchase metadata.
const MetadataEntry = "iTunesMetadata.json"

// Finalizer embeds metadata into the artifact at path, in place.
type Finalizer interface {
	Finalize(path string, desc *domain.ItemDescriptor, owner string) error
}

type metadata struct {
	BundleID      string    `json:"softwareVersionBundleId"`
	ItemName      string    `json:"itemName"`
	BundleVersion string    `json:"bundleShortVersionString"`
	AppleID       string    `json:"appleId"`
	ArtworkURL    string    `json:"artworkURL,omitempty"`
	PurchaseDate  time.Time `json:"purchaseDate"`
}

// MetadataFinalizer rewrites the zip archive with a fresh metadata entry.
type MetadataFinalizer struct {
	logger *slog.Logger
	now    func() time.Time
}

func NewMetadataFinalizer(logger *slog.Logger) *MetadataFinalizer {
	return &MetadataFinalizer{logger: logger, now: time.Now}
}

// Finalize writes a new archive next to path and renames it over the original.
// On error the original is left untouched.
func (f *MetadataFinalizer) Finalize(path string, desc *domain.ItemDescriptor, owner string) error {
	if desc == nil {
		return fmt.Errorf("finalize %s: descriptor is nil", path)
	}

	src, err := zip.OpenReader(path)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer src.Close()

	tmpPath := filepath.Join(filepath.Dir(path), ".finalize-"+uuid.NewString())
	out, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create temp archive: %w", err)
	}

	if err := f.rewrite(&src.Reader, out, desc, owner); err != nil {
		out.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp archive: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("replace archive: %w", err)
	}

	f.logger.Debug("archive finalized",
		"item_id", desc.ItemID,
		"path", path,
	)
	return nil
}

func (f *MetadataFinalizer) rewrite(src *zip.Reader, dst io.Writer, desc *domain.ItemDescriptor, owner string) error {
	zw := zip.NewWriter(dst)

	for _, entry := range src.File {
		if entry.Name == MetadataEntry {
			continue
		}
		if err := zw.Copy(entry); err != nil {
			return fmt.Errorf("copy entry %s: %w", entry.Name, err)
		}
	}

	data, err := json.MarshalIndent(metadata{
		BundleID:      desc.ItemID,
		ItemName:      desc.Name,
		BundleVersion: desc.Version,
		AppleID:       owner,
		ArtworkURL:    desc.AvatarURL,
		PurchaseDate:  f.now().UTC(),
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	w, err := zw.Create(MetadataEntry)
	if err != nil {
		return fmt.Errorf("create metadata entry: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write metadata entry: %w", err)
	}

	if err := zw.Close(); err != nil {
		return fmt.Errorf("close archive: %w", err)
	}
	return nil
}
