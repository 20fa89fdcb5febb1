package model

import "time"

// Folder is a local album folder directly under the sync root.
type Folder struct {
	// Name is the folder name relative to the root.
	Name string

	// ModTime is the folder's modification time, kept equal to the newest
	// file inside it after every download.
	ModTime time.Time
}

// LocalFile is a regular file inside a local album folder.
type LocalFile struct {
	Name    string
	ModTime time.Time
	Size    int64
}
