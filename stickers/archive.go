package stickers

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	rardecode "github.com/nwaples/rardecode/v2"
)

const (
	maxArchiveBytes int64 = 200 * 1024 * 1024 // 200 MiB upper guard
	maxEntryBytes   int64 = 32 * 1024 * 1024

	archiveFormatZip = "zip"
	archiveFormatRar = "rar"
)

// archiveEntry is one image file pulled out of a sticker pack archive.
type archiveEntry struct {
	Name string
	Mime string
	Data []byte
}

// extractArchive reads a zip or rar sticker pack from memory and returns its
// image entries. Non-image entries are skipped; traversal entries abort the
// whole import.
func extractArchive(data []byte, originalName string) ([]archiveEntry, error) {
	if int64(len(data)) > maxArchiveBytes {
		return nil, fmt.Errorf("stickers: archive size exceeds %d bytes", maxArchiveBytes)
	}

	format, err := detectArchiveFormat(data, originalName)
	if err != nil {
		return nil, err
	}

	var entries []archiveEntry
	switch format {
	case archiveFormatZip:
		entries, err = extractZip(data)
	case archiveFormatRar:
		entries, err = extractRar(data)
	default:
		err = fmt.Errorf("stickers: unsupported archive format")
	}
	if err != nil {
		return nil, err
	}

	if len(entries) == 0 {
		return nil, errors.New("stickers: archive contains no images")
	}
	return entries, nil
}

func extractZip(data []byte) ([]archiveEntry, error) {
	reader, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("stickers: parse archive: %w", err)
	}

	var entries []archiveEntry
	for _, file := range reader.File {
		sanitized, err := sanitizeArchiveEntry(file.Name)
		if err != nil {
			return nil, err
		}
		if sanitized == "" || file.FileInfo().IsDir() || !isImagePath(strings.ToLower(sanitized)) {
			continue
		}

		rc, err := file.Open()
		if err != nil {
			return nil, fmt.Errorf("stickers: open entry %s: %w", sanitized, err)
		}
		payload, err := io.ReadAll(io.LimitReader(rc, maxEntryBytes+1))
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("stickers: read entry %s: %w", sanitized, err)
		}
		if int64(len(payload)) > maxEntryBytes {
			return nil, fmt.Errorf("stickers: entry %s exceeds %d bytes", sanitized, maxEntryBytes)
		}

		entries = append(entries, archiveEntry{
			Name: entryName(sanitized),
			Mime: mimeForPath(strings.ToLower(sanitized)),
			Data: payload,
		})
	}
	return entries, nil
}

func extractRar(data []byte) ([]archiveEntry, error) {
	rr, err := rardecode.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("stickers: parse rar archive: %w", err)
	}

	var entries []archiveEntry
	for {
		header, err := rr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("stickers: read rar entry: %w", err)
		}

		sanitized, err := sanitizeArchiveEntry(header.Name)
		if err != nil {
			return nil, err
		}
		if sanitized == "" || header.IsDir || !isImagePath(strings.ToLower(sanitized)) {
			if !header.IsDir {
				if _, err := io.Copy(io.Discard, rr); err != nil {
					return nil, fmt.Errorf("stickers: discard rar entry: %w", err)
				}
			}
			continue
		}

		payload, err := io.ReadAll(io.LimitReader(rr, maxEntryBytes+1))
		if err != nil {
			return nil, fmt.Errorf("stickers: read entry %s: %w", sanitized, err)
		}
		if int64(len(payload)) > maxEntryBytes {
			return nil, fmt.Errorf("stickers: entry %s exceeds %d bytes", sanitized, maxEntryBytes)
		}

		entries = append(entries, archiveEntry{
			Name: entryName(sanitized),
			Mime: mimeForPath(strings.ToLower(sanitized)),
			Data: payload,
		})
	}
	return entries, nil
}

func detectArchiveFormat(data []byte, originalName string) (string, error) {
	ext := strings.ToLower(strings.TrimSpace(path.Ext(originalName)))
	switch ext {
	case ".zip":
		return archiveFormatZip, nil
	case ".rar":
		return archiveFormatRar, nil
	}

	if len(data) >= 4 && bytes.Equal(data[:4], []byte{0x50, 0x4b, 0x03, 0x04}) {
		return archiveFormatZip, nil
	}
	if len(data) >= 2 && data[0] == 0x50 && data[1] == 0x4b {
		return archiveFormatZip, nil
	}
	if len(data) >= 7 && bytes.Equal(data[:7], []byte{0x52, 0x61, 0x72, 0x21, 0x1a, 0x07, 0x01}) {
		return archiveFormatRar, nil
	}
	if len(data) >= 6 && bytes.Equal(data[:6], []byte{0x52, 0x61, 0x72, 0x21, 0x1a, 0x07}) {
		return archiveFormatRar, nil
	}

	if ext != "" {
		return "", fmt.Errorf("stickers: unsupported archive format %q", ext)
	}
	return "", errors.New("stickers: unsupported archive format, only .zip and .rar are accepted")
}

func sanitizeArchiveEntry(name string) (string, error) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return "", nil
	}

	normalized := strings.ReplaceAll(trimmed, "\\", "/")
	normalized = path.Clean(normalized)
	normalized = strings.TrimPrefix(normalized, "./")
	if normalized == "." || normalized == "" {
		return "", nil
	}
	if strings.HasPrefix(normalized, "../") || strings.HasPrefix(normalized, "/") {
		return "", fmt.Errorf("stickers: archive entry %q uses parent traversal", name)
	}
	if strings.HasPrefix(strings.ToLower(normalized), "__macosx/") {
		return "", nil
	}
	return normalized, nil
}

func isImagePath(p string) bool {
	switch {
	case strings.HasSuffix(p, ".png"):
		return true
	case strings.HasSuffix(p, ".jpg"), strings.HasSuffix(p, ".jpeg"):
		return true
	case strings.HasSuffix(p, ".webp"):
		return true
	case strings.HasSuffix(p, ".gif"):
		return true
	default:
		return false
	}
}

func mimeForPath(p string) string {
	switch {
	case strings.HasSuffix(p, ".png"):
		return "image/png"
	case strings.HasSuffix(p, ".jpg"), strings.HasSuffix(p, ".jpeg"):
		return "image/jpeg"
	case strings.HasSuffix(p, ".webp"):
		return "image/webp"
	case strings.HasSuffix(p, ".gif"):
		return "image/gif"
	default:
		return "application/octet-stream"
	}
}

func entryName(p string) string {
	base := path.Base(p)
	if i := strings.LastIndex(base, "."); i > 0 {
		base = base[:i]
	}
	return base
}
