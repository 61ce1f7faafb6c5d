/*
 *     Copyright 2023 The Dragonfly Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *      http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package pidfile

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/shirou/gopsutil/v3/process"
)

// ErrProcessExists means the pid file belongs to a live process.
var ErrProcessExists = errors.New("process already exists")

// PIDFile is a file used to store the process ID and cmdline of a running process.
type PIDFile struct {
	path    string
	pid     int
	cmdline string
}

// IsProcessExistsByPIDFile reports whether the process recorded in path is still running
// with the same cmdline.
func IsProcessExistsByPIDFile(path string) (bool, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return false, err
	}

	content := strings.TrimSpace(string(b))
	index := strings.LastIndex(content, "@")
	if index == -1 {
		return false, errors.New("pid file content is invalid")
	}

	pid, err := strconv.Atoi(content[index+1:])
	if err != nil {
		return false, err
	}

	p, err := process.NewProcess(int32(pid))
	if err != nil {
		return false, err
	}

	cmdline, _ := p.Cmdline()
	return strings.TrimSpace(cmdline+"@"+strconv.Itoa(pid)) == content, nil
}

// New writes the current process to path. It fails with ErrProcessExists while another
// live process owns the file. Stale or unreadable files are overwritten.
func New(path string) (*PIDFile, error) {
	if ok, _ := IsProcessExistsByPIDFile(path); ok {
		return nil, errors.Wrapf(ErrProcessExists, "pid file %s", path)
	}

	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, err
	}

	cmdline, _ := p.Cmdline()
	if err := os.WriteFile(path, []byte(fmt.Sprintf("%s@%d", cmdline, p.Pid)), 0644); err != nil {
		return nil, err
	}

	return &PIDFile{path: path, pid: int(p.Pid), cmdline: cmdline}, nil
}

func (pf *PIDFile) Path() string {
	return pf.path
}

// Remove removes the PIDFile. Removing it twice is not an error.
func (pf *PIDFile) Remove() error {
	if err := os.Remove(pf.path); err != nil && !os.IsNotExist(err) {
		return err
	}

	return nil
}
