// Copyright 2025 KrakLabs
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// For commercial licensing, contact: licensing@kraklabs.com
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"path"
	"strings"
	"time"
)

// StorageKind says where a blob lives.
type StorageKind string

const (
	StorageRemote StorageKind = "remote-object"
	StorageLocal  StorageKind = "local"
)

// ArchiveOrigin records where a file came from when it was unpacked from an archive.
type ArchiveOrigin struct {
	ArchiveName  string `json:"archiveName"`
	RelativePath string `json:"relativePath"`
}

// StoredFile is one uploaded artifact. Files are owned by users and may outlive a job.
type StoredFile struct {
	ID               string         `json:"fileId"`
	UserID           string         `json:"userId"`
	SessionID        string         `json:"sessionId,omitempty"`
	OriginalFilename string         `json:"originalFilename"`
	SizeBytes        int64          `json:"sizeBytes"`
	MimeType         string         `json:"mimeType"`
	Format           string         `json:"format"`
	BlobLocator      string         `json:"blobLocator"`
	StorageKind      StorageKind    `json:"storageKind"`
	ArchiveOrigin    *ArchiveOrigin `json:"archiveOrigin,omitempty"`
	CreatedAt        time.Time      `json:"createdAt"`
}

var archiveFormats = map[string]bool{
	"zip": true,
	"tar": true,
	"tgz": true,
	"gz":  true,
}

var archiveMimeTypes = map[string]bool{
	"application/zip":              true,
	"application/x-zip-compressed": true,
	"application/x-tar":            true,
	"application/gzip":             true,
	"application/x-gzip":           true,
	"application/x-compressed-tar": true,
}

// IsArchive reports whether the file should be handed to the archive extractor.
func (f StoredFile) IsArchive() bool {
	if archiveMimeTypes[strings.ToLower(f.MimeType)] {
		return true
	}
	format := strings.TrimPrefix(strings.ToLower(f.Format), ".")
	if format == "" {
		format = strings.TrimPrefix(strings.ToLower(path.Ext(f.OriginalFilename)), ".")
	}
	return archiveFormats[format]
}
