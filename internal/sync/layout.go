package sync

import (
	"path"
	"strings"
	"time"

	"github.com/njoerd114/picasync/internal/model"
)

const (
	// AutoBackupFolder is the reserved local folder for instant-upload
	// albums. It is also the album name always dropped from the exclusion list.
	AutoBackupFolder = "Auto Backup"

	// InstantUploadTitle is the title of the device upload album.
	InstantUploadTitle = "Instant Upload"
	instantUploadName  = "InstantUpload"

	// RecycleBinTitle is the album used as the soft-delete staging area.
	RecycleBinTitle       = "Recycle Bin"
	recycleBinDescription = "Picasync Photos ready for deletion."

	// DropBoxTitle is the remote upload inbox album.
	DropBoxTitle = "Drop Box"
)

// FolderForAlbum maps an album to its folder relative to the sync root.
// Instant-upload albums live under [AutoBackupFolder] with path separators in
// their titles replaced by underscores.
func FolderForAlbum(a *model.Album) string {
	if !a.IsInstantUpload() {
		return a.Title
	}
	title := strings.NewReplacer("/", "_", `\`, "_").Replace(a.Title)
	return path.Join(AutoBackupFolder, title)
}

// AlbumTitleForFolder reverses [FolderForAlbum].
func AlbumTitleForFolder(folder string) string {
	dir, name := path.Split(folder)
	if strings.TrimSuffix(dir, "/") == AutoBackupFolder {
		return strings.ReplaceAll(name, "_", "/")
	}
	return folder
}

// localChangeDate is the date a work item is ordered by: the remote album's
// update time when the local folder is missing or older, otherwise the
// folder's mtime.
func localChangeDate(remoteUpdated, folderMod time.Time, folderExists bool) time.Time {
	if !folderExists || remoteUpdated.After(folderMod) {
		return remoteUpdated
	}
	return folderMod
}

func isInstantUploadAlbum(a *model.Album) bool {
	return a.IsInstantUpload() && (a.Name == instantUploadName || a.Title == InstantUploadTitle)
}
