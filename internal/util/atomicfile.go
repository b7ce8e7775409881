// Copyright 2025 The ZfDash Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package util

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// WriteFileAtomic writes data to path via a temp file in the same directory
// followed by rename, so readers never observe a partial file.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp*")
	if err != nil {
		return errors.Wrapf(err, "creating temp file in %s", dir)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errors.Wrapf(err, "writing %s", tmpName)
	}
	if err := tmp.Chmod(perm); err != nil {
		tmp.Close()
		return errors.Wrapf(err, "setting mode on %s", tmpName)
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrapf(err, "closing %s", tmpName)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return errors.Wrapf(err, "renaming %s to %s", tmpName, path)
	}
	return nil
}

// WriteJSONAtomic marshals v with indentation and writes it atomically.
func WriteJSONAtomic(path string, v interface{}, perm os.FileMode) error {
	data, err := json.MarshalIndent(v, "", "    ")
	if err != nil {
		return errors.Wrap(err, "marshaling JSON")
	}
	return WriteFileAtomic(path, append(data, '\n'), perm)
}

// ReadJSON unmarshals the file at path into v. A missing file is reported
// via os.IsNotExist on the returned error.
func ReadJSON(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return errors.Wrapf(err, "parsing %s", path)
	}
	return nil
}
