package blobstore

import "strings"

// Key layout of the object store:
//
//	projects/{projectID}/{filePath}            plain file content
//	crdt/{projectID}/{filePath}.snapshot       serialized document state
//	crdt/{projectID}/{folderPath}/.folder      zero-byte empty-directory marker
const (
	projectPrefix  = "projects/"
	crdtPrefix     = "crdt/"
	SnapshotSuffix = ".snapshot"
	FolderMarker   = ".folder"
)

// FileKey returns the plain-content key for a project file.
func FileKey(projectID, filePath string) string {
	return projectPrefix + projectID + "/" + strings.TrimPrefix(filePath, "/")
}

// SnapshotKey returns the document-state key for a project file.
func SnapshotKey(projectID, filePath string) string {
	return crdtPrefix + projectID + "/" + strings.TrimPrefix(filePath, "/") + SnapshotSuffix
}

// FolderKey returns the empty-directory marker key for a project folder.
func FolderKey(projectID, folderPath string) string {
	return crdtPrefix + projectID + "/" + strings.Trim(folderPath, "/") + "/" + FolderMarker
}

// ProjectFilePrefix returns the prefix under which all plain files of a
// project live.
func ProjectFilePrefix(projectID string) string {
	return projectPrefix + projectID + "/"
}

// ProjectSnapshotPrefix returns the prefix under which all document
// snapshots and folder markers of a project live.
func ProjectSnapshotPrefix(projectID string) string {
	return crdtPrefix + projectID + "/"
}

// SnapshotKeyPath extracts the file path from a key returned by listing
// ProjectSnapshotPrefix. The second result is false for folder markers and
// keys that are not snapshots.
func SnapshotKeyPath(projectID, key string) (string, bool) {
	rel, ok := strings.CutPrefix(key, ProjectSnapshotPrefix(projectID))
	if !ok {
		return "", false
	}
	if strings.HasSuffix(rel, "/"+FolderMarker) || rel == FolderMarker {
		return "", false
	}
	path, ok := strings.CutSuffix(rel, SnapshotSuffix)
	if !ok {
		return "", false
	}
	return path, true
}

// FolderKeyPath extracts the folder path from a folder marker key. The
// second result is false for keys that are not folder markers.
func FolderKeyPath(projectID, key string) (string, bool) {
	rel, ok := strings.CutPrefix(key, ProjectSnapshotPrefix(projectID))
	if !ok {
		return "", false
	}
	folder, ok := strings.CutSuffix(rel, "/"+FolderMarker)
	if !ok {
		return "", false
	}
	return folder, true
}

// FileKeyPath extracts the file path from a key returned by listing
// ProjectFilePrefix.
func FileKeyPath(projectID, key string) (string, bool) {
	return strings.CutPrefix(key, ProjectFilePrefix(projectID))
}
