// Package fs holds some utilities for manipulating the file system
package fs

import (
	"os"
	"os/user"
	"path"
)

const defaultDirectoryPermission = 0740
const rwFilePermission = 0600

// HomeFolder returns the home folder of the current user.
func HomeFolder() string {
	u, err := user.Current()
	if err != nil {
		panic(err)
	}
	return u.HomeDir
}

// CreateSecureFolder returns the folder as is if it already exists, without
// checking its permissions, and creates it with 0740 permissions otherwise.
func CreateSecureFolder(folder string) string {
	if exists, _ := Exists(folder); exists {
		return folder
	}
	if err := os.MkdirAll(folder, defaultDirectoryPermission); err != nil {
		panic(err)
	}
	return folder
}

// Exists returns whether the given file or directory exists.
func Exists(filePath string) (bool, error) {
	_, err := os.Stat(filePath)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return true, err
}

// CreateSecureFile creates a file with rw permission for the user only and
// returns the file handle.
func CreateSecureFile(file string) (*os.File, error) {
	fd, err := os.Create(file)
	if err != nil {
		return nil, err
	}
	fd.Close()
	if err := os.Chmod(file, rwFilePermission); err != nil {
		return nil, err
	}
	return os.OpenFile(file, os.O_RDWR, rwFilePermission)
}

// Files returns the list of file paths included in the given folder.
func Files(folderPath string) ([]string, error) {
	fi, err := os.ReadDir(folderPath)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, f := range fi {
		if !f.IsDir() {
			files = append(files, path.Join(folderPath, f.Name()))
		}
	}
	return files, nil
}

// FileExists returns true if the given name is a file in the given path. name
// must be the "basename" of the file and path must be the folder where it
// lies.
func FileExists(filePath, name string) bool {
	list, err := Files(filePath)
	if err != nil {
		return false
	}
	for _, l := range list {
		if l == path.Join(filePath, name) {
			return true
		}
	}
	return false
}
