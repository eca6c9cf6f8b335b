// Package fsutil contains utilities for working with the file system.
package fsutil

import (
	"os"
	"os/user"
	"path"
	"strings"

	"github.com/pkg/errors"
)

// FileExists returns whether the file or directory exists or an error if something went wrong in the filesystem.
func FileExists(filePath string) (bool, error) {
	_, err := os.Stat(filePath)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, errors.Wrapf(err, "failed to stat %q", filePath)
}

// RequireRegularFile returns an error wrapping os.ErrNotExist if filePath doesn't exist,
// or a plain error if it is a directory.
func RequireRegularFile(filePath string) error {
	info, err := os.Stat(filePath)
	if err != nil {
		return errors.Wrapf(err, "file %q", filePath)
	}
	if info.IsDir() {
		return errors.Errorf("%q is a directory, a regular file was expected", filePath)
	}
	return nil
}

// ExpandHome replaces a leading "~" or "~user" in filePath by the corresponding home directory.
// Paths not starting with "~" are returned unchanged.
//
// It returns an error if the user is unknown (e.g: `~unknown/...`).
func ExpandHome(filePath string) (string, error) {
	if !strings.HasPrefix(filePath, "~") {
		return filePath, nil
	}
	userName, _, _ := strings.Cut(filePath[1:], "/")
	var usr *user.User
	var err error
	if userName == "" {
		usr, err = user.Current()
	} else {
		usr, err = user.Lookup(userName)
	}
	if err != nil {
		return "", errors.Wrapf(err, "failed to lookup home directory for path %q", filePath)
	}
	return path.Join(usr.HomeDir, filePath[1+len(userName):]), nil
}

// MustExpandHome is like ExpandHome, but panics on error.
func MustExpandHome(filePath string) string {
	filePath, err := ExpandHome(filePath)
	if err != nil {
		panic(err)
	}
	return filePath
}
